package grammar

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNoRules       = errors.New("grammar: no rules")
	ErrRootRange     = errors.New("grammar: root rule index out of range")
	ErrMalformedRule = errors.New("grammar: malformed rule")
	ErrLeftRecursion = errors.New("grammar: left recursion")
)

// Position addresses one element: Rules[Rule][Index].
type Position struct {
	Rule  uint32
	Index int
}

// Stack is a parse stack of positions; the last entry is the element that
// must match next.
type Stack []Position

// Grammar is an initialised grammar handle: the rule set plus the parse
// stacks that are live before any input has been accepted.
type Grammar struct {
	rules  [][]Element
	root   uint32
	stacks []Stack
}

// New initialises a grammar from a flattened rule collection and the id of
// the start rule.
func New(rules [][]Element, root uint32) (*Grammar, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}
	if int(root) >= len(rules) {
		return nil, fmt.Errorf("%w: %d of %d", ErrRootRange, root, len(rules))
	}

	// copy each rule up to and including its END
	vecRules := make([][]Element, len(rules))
	for i, rule := range rules {
		end := slices.IndexFunc(rule, func(e Element) bool { return e.Type == End })
		if end < 0 {
			if len(rule) == 0 {
				continue
			}
			return nil, fmt.Errorf("%w: rule %d does not end with END", ErrMalformedRule, i)
		}
		vecRules[i] = slices.Clone(rule[:end+1])
	}
	if err := validateRules(vecRules); err != nil {
		return nil, err
	}
	if len(vecRules[root]) == 0 {
		return nil, fmt.Errorf("%w: root rule %d is undefined", ErrMalformedRule, root)
	}
	if i, ok := detectLeftRecursion(vecRules); ok {
		return nil, fmt.Errorf("%w: rule %d", ErrLeftRecursion, i)
	}

	g := &Grammar{rules: vecRules, root: root}

	// one initial stack per alternate of the start rule
	rootRule := vecRules[root]
	for pos := 0; ; {
		var stack Stack
		if !isEndOfSequence(rootRule[pos]) {
			stack = Stack{{Rule: root, Index: pos}}
		}
		stacks, err := g.advanceStack(stack, g.stacks, make(map[Position]bool))
		if err != nil {
			return nil, err
		}
		g.stacks = stacks

		for !isEndOfSequence(rootRule[pos]) {
			pos++
		}
		if rootRule[pos].Type != Alt {
			break
		}
		pos++
	}

	return g, nil
}

// validateRules checks references and char set layout so advancing a stack
// never indexes outside a rule.
func validateRules(rules [][]Element) error {
	for i, rule := range rules {
		for j, elem := range rule {
			switch elem.Type {
			case RuleRef:
				if int(elem.Value) >= len(rules) || len(rules[elem.Value]) == 0 {
					return fmt.Errorf("%w: rule %d references undefined rule %d", ErrMalformedRule, i, elem.Value)
				}
			case CharAlt, CharRngUpper:
				if j == 0 || !isCharElement(rule[j-1]) {
					return fmt.Errorf("%w: rule %d element %d has no preceding char", ErrMalformedRule, i, j)
				}
			case End, Alt, Char, CharNot, CharAny:
			default:
				return fmt.Errorf("%w: rule %d element %d has unknown type %d", ErrMalformedRule, i, j, elem.Type)
			}
		}
	}
	return nil
}

// nullableRules marks the rules that can match the empty string: a rule is
// nullable when one of its alternates holds only references to nullable rules.
// The marking is repeated until it stops changing.
func nullableRules(rules [][]Element) []bool {
	nullable := make([]bool, len(rules))
	for changed := true; changed; {
		changed = false
		for i, rule := range rules {
			if nullable[i] {
				continue
			}
			empty := true
			for _, elem := range rule {
				if isEndOfSequence(elem) {
					if empty {
						nullable[i] = true
						changed = true
						break
					}
					empty = true
					continue
				}
				if elem.Type != RuleRef || !nullable[elem.Value] {
					empty = false
				}
			}
		}
	}
	return nullable
}

// detectLeftRecursion reports the first rule that can reach itself without
// consuming input.
func detectLeftRecursion(rules [][]Element) (int, bool) {
	visited := make([]bool, len(rules))
	inProgress := make([]bool, len(rules))
	mayBeEmpty := nullableRules(rules)

	var detect func(i int) bool
	detect = func(i int) bool {
		if inProgress[i] {
			return true
		}
		if visited[i] {
			return false
		}
		inProgress[i] = true

		// recurse into the leftmost non-terminal, and past it while it may be empty
		recurse := true
		for _, elem := range rules[i] {
			switch {
			case elem.Type == RuleRef && recurse:
				if detect(int(elem.Value)) {
					return true
				}
				if !mayBeEmpty[elem.Value] {
					recurse = false
				}
			case isEndOfSequence(elem):
				recurse = true
			default:
				recurse = false
			}
		}

		inProgress[i] = false
		visited[i] = true
		return false
	}

	for i := range rules {
		if len(rules[i]) == 0 || visited[i] {
			continue
		}
		if detect(i) {
			return i, true
		}
	}
	return 0, false
}

// advanceStack expands RuleRefs at the top of stack until every resulting
// stack is empty or ends at a char element, appending them to out. expanding
// holds the positions already expanded on the current path; meeting one again
// means a rule reached itself without consuming input.
func (g *Grammar) advanceStack(stack Stack, out []Stack, expanding map[Position]bool) ([]Stack, error) {
	if len(stack) == 0 {
		return appendUnique(out, stack), nil
	}

	top := stack[len(stack)-1]
	elem := g.rules[top.Rule][top.Index]

	switch elem.Type {
	case RuleRef:
		if expanding[top] {
			return out, fmt.Errorf("%w: rule %d", ErrLeftRecursion, top.Rule)
		}
		expanding[top] = true
		defer delete(expanding, top)

		sub := g.rules[elem.Value]
		next := Position{Rule: top.Rule, Index: top.Index + 1}
		for subPos := 0; ; {
			newStack := slices.Clone(stack[:len(stack)-1])
			if !isEndOfSequence(g.rules[next.Rule][next.Index]) {
				newStack = append(newStack, next)
			}
			if !isEndOfSequence(sub[subPos]) {
				newStack = append(newStack, Position{Rule: elem.Value, Index: subPos})
			}
			var err error
			if out, err = g.advanceStack(newStack, out, expanding); err != nil {
				return out, err
			}

			for !isEndOfSequence(sub[subPos]) {
				subPos++
			}
			if sub[subPos].Type != Alt {
				break
			}
			subPos++
		}
	case Char, CharNot, CharAny:
		out = appendUnique(out, stack)
	}
	return out, nil
}

func appendUnique(stacks []Stack, stack Stack) []Stack {
	for _, s := range stacks {
		if slices.Equal(s, stack) {
			return stacks
		}
	}
	return append(stacks, stack)
}

// Root returns the start rule id.
func (g *Grammar) Root() uint32 { return g.root }

// Rules returns the rule set. The slices are shared and must not be modified.
func (g *Grammar) Rules() [][]Element { return g.rules }

// NumRules returns the number of rule ids, including undefined gaps.
func (g *Grammar) NumRules() int { return len(g.rules) }

// Stacks returns a copy of the live parse stacks.
func (g *Grammar) Stacks() []Stack {
	out := make([]Stack, len(g.stacks))
	for i, s := range g.stacks {
		out[i] = slices.Clone(s)
	}
	return out
}

// At returns the element a position refers to.
func (g *Grammar) At(p Position) Element {
	return g.rules[p.Rule][p.Index]
}

// AcceptsEmpty reports whether the grammar matches the empty string, that is
// whether some initial stack is already exhausted.
func (g *Grammar) AcceptsEmpty() bool {
	for _, s := range g.stacks {
		if len(s) == 0 {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the handle.
func (g *Grammar) Clone() *Grammar {
	return &Grammar{rules: g.rules, root: g.root, stacks: g.Stacks()}
}
