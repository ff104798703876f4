package qkv

// Query states. A query starts out accepting every clause, narrows to
// key-only clauses after Keys, and to execution only after Modify.
type queryState int

const (
	stInitial queryState = iota
	stKeys
	stModify
)

// ModifyRule maps document field paths to replacement values. A value of
// type func(Document) any is invoked with the matched document and its
// result stored instead.
type ModifyRule map[string]any

type filter struct {
	field string
	value any
	fn    func(item any) bool
}

// Query is a fluent, single-shot query over one collection or index. Chain
// methods never fail in place; an invalid clause poisons the query and the
// error surfaces from Execute or Count. A Query runs one traversal and is
// not reusable.
type Query struct {
	sess *Session
	col  *CollectionDef
	idx  *IndexDef

	rng      Range
	reverse  bool
	distinct bool
	keysOnly bool
	filters  []filter
	skip     int
	take     int
	modify   ModifyRule
	mapper   func(item any) any

	state queryState
	err   error
}

func (q *Query) poison(msg string) *Query {
	if q.err == nil {
		q.err = storeErrf(q.sess.store.name, q.col.Name, nil, nil, "%s", msg)
	}
	return q
}

// Range restricts the traversal to the keys a value or comparison object
// selects. Accepts anything TranslateRange accepts.
func (q *Query) Range(key any) *Query {
	if q.err != nil {
		return q
	}
	if q.state != stInitial {
		return q.poison("Range must come before Keys and Modify")
	}
	rng, err := TranslateRange(key)
	if err != nil {
		q.err = err
		return q
	}
	q.rng = rng
	return q
}

// Filter keeps only records whose field equals value. Filters combine with
// AND. An empty field name is ignored. In key mode there are no fields to
// look at, so a field filter matches nothing; use FilterFunc there.
func (q *Query) Filter(field string, value any) *Query {
	if q.err != nil || field == "" {
		return q
	}
	if q.state == stModify {
		return q.poison("Filter is not available after Modify")
	}
	q.filters = append(q.filters, filter{field: field, value: value})
	return q
}

// FilterFunc keeps only items the predicate accepts. In key mode the
// predicate sees keys; otherwise it sees documents. A nil predicate is
// ignored.
func (q *Query) FilterFunc(fn func(item any) bool) *Query {
	if q.err != nil || fn == nil {
		return q
	}
	if q.state == stModify {
		return q.poison("FilterFunc is not available after Modify")
	}
	q.filters = append(q.filters, filter{fn: fn})
	return q
}

// Desc reverses the traversal direction.
func (q *Query) Desc() *Query {
	if q.err != nil {
		return q
	}
	if q.state == stModify {
		return q.poison("Desc is not available after Modify")
	}
	q.reverse = true
	return q
}

// Distinct collapses index entries with equal derived keys to their first
// record. It has no effect on a collection traversal, where keys are unique
// already.
func (q *Query) Distinct() *Query {
	if q.err != nil {
		return q
	}
	if q.state == stModify {
		return q.poison("Distinct is not available after Modify")
	}
	q.distinct = true
	return q
}

// Keys switches the query to yield primary keys instead of documents.
// Modify and Count are unavailable after Keys.
func (q *Query) Keys() *Query {
	if q.err != nil {
		return q
	}
	if q.state == stModify {
		return q.poison("Keys is not available after Modify")
	}
	q.keysOnly = true
	q.state = stKeys
	return q
}

// Skip drops the first n matching positions before any record is collected.
func (q *Query) Skip(n int) *Query {
	if q.err != nil {
		return q
	}
	if q.state != stInitial {
		return q.poison("Skip must come before Keys and Modify")
	}
	if n < 0 {
		return q.poison("negative skip")
	}
	q.skip = n
	return q
}

// Limit stops collecting after n records have passed the filters.
func (q *Query) Limit(n int) *Query {
	if q.err != nil {
		return q
	}
	if q.state != stInitial {
		return q.poison("Limit must come before Keys and Modify")
	}
	if n < 0 {
		return q.poison("negative limit")
	}
	q.take = n
	return q
}

// Modify turns the query into an update: every record that passes the
// filters is rewritten per the rule, inside the same transaction as the
// traversal. Only Execute may follow.
func (q *Query) Modify(rule ModifyRule) *Query {
	if q.err != nil {
		return q
	}
	if q.state != stInitial {
		return q.poison("Modify must come first in the chain")
	}
	if len(rule) == 0 {
		return q.poison("empty modify rule")
	}
	q.modify = rule
	q.state = stModify
	return q
}

// Map transforms every collected item through fn before it is returned.
// When the chain continues with Modify, fn sees the rewritten document.
func (q *Query) Map(fn func(item any) any) *Query {
	if q.err != nil || fn == nil {
		return q
	}
	if q.state == stModify {
		return q.poison("Map is not available after Modify")
	}
	q.mapper = fn
	return q
}
