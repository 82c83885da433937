// Package session establishes an authenticated browser session, handing off
// to a human operator when the site presents an anti-automation challenge.
package session

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/quill/internal/locator"
)

// State is a node of the login state machine.
type State int

const (
	Unauthenticated State = iota
	CredentialsSubmitted
	Authenticated
	ChallengePending
	EscalatedToHuman
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case CredentialsSubmitted:
		return "credentials_submitted"
	case Authenticated:
		return "authenticated"
	case ChallengePending:
		return "challenge_pending"
	case EscalatedToHuman:
		return "escalated_to_human"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed
}

// Transition is one recorded state change.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Session is the observable state of the login flow. It is only mutated by
// the Manager.
type Session struct {
	State         State
	Authenticated bool
	Escalated     bool
	// Snapshot is the location of the diagnostic capture taken on escalation.
	Snapshot string
	History  []Transition
}

// Chains are the locator chains the login flow depends on. ModeToggle and
// Challenge are optional and may be empty.
type Chains struct {
	Indicator  locator.Chain
	ModeToggle locator.Chain
	Username   locator.Chain
	Password   locator.Chain
	Submit     locator.Chain
	Challenge  locator.Chain
}

// Validate checks that every required chain is usable.
func (c Chains) Validate() error {
	for _, chain := range []locator.Chain{c.Indicator, c.Username, c.Password, c.Submit} {
		if chain.Empty() {
			return fmt.Errorf("session chain %q has no strategies", chain.Name)
		}
		if err := chain.Validate(); err != nil {
			return err
		}
	}
	return nil
}
