package locator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExhausted matches any *ExhaustedError via errors.Is.
var ErrExhausted = errors.New("locator exhausted")

// ExhaustedError reports that every strategy of a chain failed to match.
type ExhaustedError struct {
	Chain string
	Tried []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("locator: chain %q exhausted after %d strategies [%s]",
		e.Chain, len(e.Tried), strings.Join(e.Tried, ", "))
}

// Is makes errors.Is(err, ErrExhausted) succeed for any exhausted chain.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Exhausted builds the error reported when no strategy of chain matched.
func Exhausted(chain Chain) *ExhaustedError {
	tried := make([]string, 0, chain.Len())
	for _, s := range chain.strategies {
		tried = append(tried, s.String())
	}
	return &ExhaustedError{Chain: chain.Name, Tried: tried}
}
