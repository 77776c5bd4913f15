package grammar

import (
	"bufio"
	"fmt"
	"io"
)

// Print writes state in grammar syntax, one rule per line:
//
//	root ::= [a-z] root_1
//
// Code points outside printable ASCII are written as <U+XXXX>.
func Print(w io.Writer, state *ParseState) error {
	names := make(map[uint32]string, len(state.SymbolIDs))
	for name, id := range state.SymbolIDs {
		names[id] = name
	}

	bw := bufio.NewWriter(w)
	for i, rule := range state.Rules {
		if len(rule) == 0 {
			continue
		}
		if err := printRule(bw, uint32(i), rule, names); err != nil {
			return fmt.Errorf("error printing grammar: %w", err)
		}
	}
	return bw.Flush()
}

func printRule(w *bufio.Writer, ruleID uint32, rule []Element, names map[uint32]string) error {
	if len(rule) == 0 || rule[len(rule)-1].Type != End {
		return fmt.Errorf("malformed rule, does not end with END: %d", ruleID)
	}
	name, ok := names[ruleID]
	if !ok {
		return fmt.Errorf("no symbol name for rule %d", ruleID)
	}

	fmt.Fprintf(w, "%s ::= ", name)
	for i := 0; i+1 < len(rule); i++ {
		elem := rule[i]
		switch elem.Type {
		case End:
			return fmt.Errorf("unexpected end of rule: %d,%d", ruleID, i)
		case Alt:
			w.WriteString("| ")
		case RuleRef:
			ref, ok := names[elem.Value]
			if !ok {
				return fmt.Errorf("no symbol name for rule %d", elem.Value)
			}
			fmt.Fprintf(w, "%s ", ref)
		case Char:
			w.WriteString("[")
			printGrammarChar(w, elem.Value)
		case CharNot:
			w.WriteString("[^")
			printGrammarChar(w, elem.Value)
		case CharRngUpper:
			if i == 0 || !isCharElement(rule[i-1]) {
				return fmt.Errorf("CHAR_RNG_UPPER without preceding char: %d,%d", ruleID, i)
			}
			w.WriteString("-")
			printGrammarChar(w, elem.Value)
		case CharAlt:
			if i == 0 || !isCharElement(rule[i-1]) {
				return fmt.Errorf("CHAR_ALT without preceding char: %d,%d", ruleID, i)
			}
			printGrammarChar(w, elem.Value)
		case CharAny:
			w.WriteString(". ")
		}

		if isCharElement(elem) {
			switch rule[i+1].Type {
			case CharAlt, CharRngUpper:
			default:
				w.WriteString("] ")
			}
		}
	}
	w.WriteString("\n")
	return nil
}

func printGrammarChar(w *bufio.Writer, c uint32) {
	if 0x20 <= c && c <= 0x7f {
		w.WriteByte(byte(c))
	} else {
		fmt.Fprintf(w, "<U+%04X>", c)
	}
}
