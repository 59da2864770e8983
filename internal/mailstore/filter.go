package mailstore

// The enumeration filters the indexer needs are a small boolean algebra
// over header properties: equality/inequality/greater-than on the two
// unsigned index properties, equality on the junk-score string, and
// equality on a status bit.  Terms within a TermGroup are ORed; groups are
// ANDed together.

// Field selects which header property a term inspects.
type Field int

const (
	FieldIndexID Field = iota
	FieldDirtyState
	FieldJunkScore
	FieldStatus
)

// Op is the comparison a term applies.
type Op int

const (
	OpIs Op = iota
	OpIsnt
	OpGreaterThan
)

// Term is a single predicate over one header property.
type Term struct {
	Field Field
	Op    Op
	// Value is used by FieldIndexID and FieldDirtyState.
	Value uint32
	// Str is used by FieldJunkScore.
	Str string
	// Flag is used by FieldStatus; the term tests whether the flag bit is
	// set (OpIs) or clear (OpIsnt).
	Flag MessageFlags
}

// TermGroup is a disjunction of terms.
type TermGroup []Term

// Matches evaluates the term against a header.
func (t Term) Matches(h Header) bool {
	switch t.Field {
	case FieldIndexID:
		id, _ := h.IndexState()
		return compareUint32(id, t.Op, t.Value)
	case FieldDirtyState:
		_, dirty := h.IndexState()
		return compareUint32(uint32(dirty), t.Op, t.Value)
	case FieldJunkScore:
		eq := h.JunkScore() == t.Str
		if t.Op == OpIsnt {
			return !eq
		}
		return eq
	case FieldStatus:
		set := h.Flags()&t.Flag != 0
		if t.Op == OpIsnt {
			return !set
		}
		return set
	}
	return false
}

func compareUint32(v uint32, op Op, want uint32) bool {
	switch op {
	case OpIs:
		return v == want
	case OpIsnt:
		return v != want
	case OpGreaterThan:
		return v > want
	}
	return false
}

// MatchGroups evaluates the conjunction of OR-groups against a header.
func MatchGroups(h Header, groups []TermGroup) bool {
	for _, group := range groups {
		matched := false
		for _, t := range group {
			if t.Matches(h) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
