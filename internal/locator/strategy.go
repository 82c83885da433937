package locator

import (
	"fmt"
	"sort"
	"strings"
)

// Strategy is one prioritized rule for locating an element: a CSS selector,
// optionally narrowed to elements whose text contains one of Text.
type Strategy struct {
	Name     string   `yaml:"name" json:"name"`
	Priority int      `yaml:"priority" json:"priority"`
	Selector string   `yaml:"selector" json:"selector"`
	Text     []string `yaml:"text,omitempty" json:"text,omitempty"`
}

func (s Strategy) String() string {
	if s.Name != "" {
		return s.Name
	}
	if len(s.Text) > 0 {
		return fmt.Sprintf("%s:text(%s)", s.Selector, strings.Join(s.Text, "|"))
	}
	return s.Selector
}

// MatchesText reports whether text satisfies the strategy's text predicate.
func (s Strategy) MatchesText(text string) bool {
	if len(s.Text) == 0 {
		return true
	}
	text = strings.TrimSpace(text)
	for _, want := range s.Text {
		if want != "" && strings.Contains(text, want) {
			return true
		}
	}
	return false
}

// Chain is an immutable list of strategies ordered by descending priority.
type Chain struct {
	Name       string
	strategies []Strategy
}

// NewChain orders strategies by descending Priority. Ties keep declaration order.
func NewChain(name string, strategies ...Strategy) Chain {
	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return Chain{Name: name, strategies: sorted}
}

// Selectors builds a chain from plain selectors, earliest first.
func Selectors(name string, selectors ...string) Chain {
	strategies := make([]Strategy, len(selectors))
	for i, sel := range selectors {
		strategies[i] = Strategy{Selector: sel, Priority: len(selectors) - i}
	}
	return NewChain(name, strategies...)
}

// Then returns a copy of the chain with extra strategies ranked below the
// existing ones.
func (c Chain) Then(strategies ...Strategy) Chain {
	out := make([]Strategy, 0, len(c.strategies)+len(strategies))
	out = append(out, c.strategies...)
	floor := 0
	if len(c.strategies) > 0 {
		floor = c.strategies[len(c.strategies)-1].Priority
	}
	for i, s := range strategies {
		s.Priority = floor - 1 - i
		out = append(out, s)
	}
	return Chain{Name: c.Name, strategies: out}
}

// Strategies returns a copy of the ordered strategies.
func (c Chain) Strategies() []Strategy {
	out := make([]Strategy, len(c.strategies))
	copy(out, c.strategies)
	return out
}

// Len is the number of strategies.
func (c Chain) Len() int { return len(c.strategies) }

// Empty reports whether the chain has no strategies. Optional steps are
// expressed as empty chains.
func (c Chain) Empty() bool { return len(c.strategies) == 0 }

// Validate rejects strategies that could match arbitrary nodes.
func (c Chain) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("chain name is required")
	}
	for i, s := range c.strategies {
		if strings.TrimSpace(s.Selector) == "" {
			return fmt.Errorf("chain %q: strategy %d (%s) has no selector", c.Name, i, s)
		}
	}
	return nil
}
