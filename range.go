package qkv

import "fmt"

// RangeKind enumerates the canonical range descriptor shapes.
type RangeKind int

const (
	RangeUnbounded RangeKind = iota
	RangeEquals
	RangeBound
	RangeLower
	RangeUpper
)

// Range is the canonical descriptor of a key range. The zero value is the
// unbounded range.
type Range struct {
	Kind     RangeKind
	Lower    any
	Upper    any
	LowerInc bool
	UpperInc bool
}

func Unbounded() Range { return Range{} }

func Equals(v any) Range {
	return Range{Kind: RangeEquals, Lower: v, Upper: v, LowerInc: true, UpperInc: true}
}

func Bound(lower, upper any, lowerInc, upperInc bool) Range {
	return Range{Kind: RangeBound, Lower: lower, Upper: upper, LowerInc: lowerInc, UpperInc: upperInc}
}

func LowerBound(v any, inc bool) Range { return Range{Kind: RangeLower, Lower: v, LowerInc: inc} }

func UpperBound(v any, inc bool) Range { return Range{Kind: RangeUpper, Upper: v, UpperInc: inc} }

// Comparison object key names accepted by TranslateRange.
const (
	cmpEq  = "eq"
	cmpGt  = "gt"
	cmpGte = "gte"
	cmpLt  = "lt"
	cmpLte = "lte"
)

// TranslateRange turns a comparison-style constraint into a canonical Range.
//
// A map[string]any with keys drawn from {eq, gt, gte, lt, lte} is parsed:
// a single key maps to the corresponding descriptor; a pair consisting of
// one of {gt, gte} and one of {lt, lte} maps to a Bound. Any other single
// key fails with ErrInvalidRangeKey; any other combination fails with
// ErrConflictingRangeKeys. Anything that is not a comparison object passes
// through: a Range is returned as is, nil (including a nil *Range) means
// unbounded, and any other value becomes an exact-key Equals lookup.
func TranslateRange(v any) (Range, error) {
	switch c := v.(type) {
	case nil:
		return Unbounded(), nil
	case Range:
		return c, nil
	case *Range:
		if c == nil {
			return Unbounded(), nil
		}
		return *c, nil
	case map[string]any:
		return translateComparison(c)
	default:
		return Equals(v), nil
	}
}

func translateComparison(c map[string]any) (Range, error) {
	switch len(c) {
	case 0:
		return Unbounded(), nil

	case 1:
		for k, v := range c {
			switch k {
			case cmpEq:
				return Equals(v), nil
			case cmpGt:
				return LowerBound(v, false), nil
			case cmpGte:
				return LowerBound(v, true), nil
			case cmpLt:
				return UpperBound(v, false), nil
			case cmpLte:
				return UpperBound(v, true), nil
			default:
				return Range{}, fmt.Errorf("%w: %q", ErrInvalidRangeKey, k)
			}
		}
		panic("unreachable")

	case 2:
		var lower, upper any
		var lowerInc, upperInc, hasLower, hasUpper bool
		for k, v := range c {
			switch k {
			case cmpGt, cmpGte:
				if hasLower {
					return Range{}, fmt.Errorf("%w: two lower bounds", ErrConflictingRangeKeys)
				}
				hasLower, lower, lowerInc = true, v, k == cmpGte
			case cmpLt, cmpLte:
				if hasUpper {
					return Range{}, fmt.Errorf("%w: two upper bounds", ErrConflictingRangeKeys)
				}
				hasUpper, upper, upperInc = true, v, k == cmpLte
			default:
				return Range{}, fmt.Errorf("%w: %q", ErrConflictingRangeKeys, k)
			}
		}
		if !hasLower || !hasUpper {
			panic("unreachable")
		}
		return Bound(lower, upper, lowerInc, upperInc), nil

	default:
		return Range{}, fmt.Errorf("%w: %d keys supplied", ErrConflictingRangeKeys, len(c))
	}
}
