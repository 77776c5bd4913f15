// Package grammar parses constrained-decoding grammars (GBNF) into the flat
// rule representation used by the sampler and builds grammar handles from it.
//
// A rule is a sequence of Elements. Alternates are separated by an Alt
// element and the rule is terminated by End:
//
//	root ::= "a" | [0-9]
//
// becomes
//
//	[Char 'a'] [Alt] [Char '0'] [CharRngUpper '9'] [End]
package grammar

import "fmt"

// ElementType identifies what an Element matches.
type ElementType uint32

const (
	// End terminates a rule definition.
	End ElementType = iota
	// Alt starts an alternate definition of the same rule.
	Alt
	// RuleRef is a non-terminal; Value is the referenced rule id.
	RuleRef
	// Char matches the code point in Value. It may be followed by CharAlt or
	// CharRngUpper elements that widen the set.
	Char
	// CharNot is an inverse char set ([^...]); same layout as Char.
	CharNot
	// CharRngUpper makes the preceding Char or CharAlt an inclusive range
	// ending at Value.
	CharRngUpper
	// CharAlt adds one more code point to the current char set.
	CharAlt
	// CharAny matches any single code point.
	CharAny
)

func (t ElementType) String() string {
	switch t {
	case End:
		return "END"
	case Alt:
		return "ALT"
	case RuleRef:
		return "RULE_REF"
	case Char:
		return "CHAR"
	case CharNot:
		return "CHAR_NOT"
	case CharRngUpper:
		return "CHAR_RNG_UPPER"
	case CharAlt:
		return "CHAR_ALT"
	case CharAny:
		return "CHAR_ANY"
	default:
		return fmt.Sprintf("ElementType(%d)", uint32(t))
	}
}

// Element is one entry of a rule.
type Element struct {
	Type  ElementType
	Value uint32
}

func (e Element) String() string {
	switch e.Type {
	case End, Alt, CharAny:
		return e.Type.String()
	case RuleRef:
		return fmt.Sprintf("%s(%d)", e.Type, e.Value)
	default:
		return fmt.Sprintf("%s(%q)", e.Type, rune(e.Value))
	}
}

// isEndOfSequence reports whether e closes an alternate.
func isEndOfSequence(e Element) bool {
	return e.Type == End || e.Type == Alt
}

// isCharElement reports whether e is part of a char set.
func isCharElement(e Element) bool {
	switch e.Type {
	case Char, CharNot, CharAlt, CharRngUpper:
		return true
	default:
		return false
	}
}
