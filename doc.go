/*
Package qkv implements a session and query layer on top of an embedded,
versioned, ordered key-value store (in this case, on top of Bolt).

We implement:

1. Collections, named ordered mappings from keys to schemaless documents,
with an optional key path or an auto-generated surrogate key.

2. Indexes, secondary ordered mappings from a derived document field to the
primary keys of the documents carrying that value.

3. Queries, a fluent builder that compiles down to exactly one cursor
traversal per query: range restriction, predicate filtering, skip/limit
windowing, distinct-key iteration, in-place mutation and result mapping,
all inside one transaction.

4. Versioned opens, reconciling a declared schema against the store's
actual collections whenever the requested version exceeds the stored one.

# Technical Details

**Buckets.**
Each collection owns a root bucket holding a nested “data” bucket plus one
“i_<name>” bucket per index. A reserved “__qkv_meta” root bucket records
the store version and a snapshot of the reconciled schema.

**Key encoding.**
Keys are numbers, strings, byte strings, or tuples of those. They are
encoded with a type tag followed by an order-preserving payload, so that
bytes.Compare over encoded keys agrees with CompareKeys. The encoding is
prefix-free, which lets index entries append the primary key to the
derived key without breaking range semantics.

**Values.**
A one-byte format version, then the msgpack encoding of the document.

**Index entries.**
Unique index: key = derived key, value = encoded primary key.
Non-unique index: key = derived key followed by the encoded primary key,
value = encoded primary key.
*/
package qkv
