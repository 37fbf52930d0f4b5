// Package decision holds the block/unblock state machine. It is pure: it reads the previous
// snapshot, the failure events of one run and the clock, and returns the next snapshot and
// the firewall actions that take the host there. Side effects belong to the caller.
package decision

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"authlog-blocker/domain/monitor"
	"authlog-blocker/domain/state"
)

const (
	DefaultFailedAttemptsThreshold = 2
	DefaultBlockDuration           = time.Hour
	DefaultReblockAfter            = 10 * time.Minute
)

type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusBlocked   Status = "blocked"
	StatusUnblocked Status = "unblocked"
)

type ActionKind string

const (
	ActionBlock   ActionKind = "block"
	ActionUnblock ActionKind = "unblock"
)

type Action struct {
	Kind    ActionKind
	Address string
}

func (a Action) String() string {
	return fmt.Sprintf("%s(%s)", a.Kind, a.Address)
}

type Reason string

const (
	ReasonExpired     Reason = "block expired"
	ReasonThreshold   Reason = "failed attempts reached threshold"
	ReasonReblocked   Reason = "kept attacking after grace period"
	ReasonStalePruned Reason = "unblock record retention elapsed"
)

type Transition struct {
	Address  string
	From     Status
	To       Status
	Attempts int
	Reason   Reason
	At       time.Time
}

// Policy is the tunable part of the state machine.
type Policy struct {
	FailedAttemptsThreshold int
	BlockDuration           time.Duration
	// ReblockAfter is the grace period after an unblock during which new failures are ignored.
	ReblockAfter time.Duration
	// UnblockedRetention prunes unblock records idle for longer than this. Zero keeps them forever.
	UnblockedRetention time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FailedAttemptsThreshold: DefaultFailedAttemptsThreshold,
		BlockDuration:           DefaultBlockDuration,
		ReblockAfter:            DefaultReblockAfter,
	}
}

func (p Policy) Validate() error {
	if p.FailedAttemptsThreshold < 1 {
		return fmt.Errorf("failed attempts threshold must be greater than zero, got %d", p.FailedAttemptsThreshold)
	}
	if p.BlockDuration <= 0 {
		return fmt.Errorf("block duration must be positive, got %v", p.BlockDuration)
	}
	if p.ReblockAfter <= 0 {
		return fmt.Errorf("reblock grace period must be positive, got %v", p.ReblockAfter)
	}
	if p.UnblockedRetention < 0 {
		return fmt.Errorf("unblocked retention must not be negative, got %v", p.UnblockedRetention)
	}
	if p.UnblockedRetention > 0 && p.UnblockedRetention <= p.ReblockAfter {
		return fmt.Errorf("unblocked retention %v must be longer than the reblock grace period %v", p.UnblockedRetention, p.ReblockAfter)
	}
	return nil
}

type Decision struct {
	Next        state.Snapshot
	Actions     []Action
	Transitions []Transition
}

func (d Decision) Changed() bool {
	return len(d.Transitions) > 0
}

func (d Decision) Summary() string {
	if len(d.Actions) == 0 {
		return "no action"
	}
	parts := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// Decide runs one evaluation pass at now. current is left untouched.
func Decide(current state.Snapshot, events map[string][]monitor.FailureEvent, now time.Time, p Policy) Decision {
	next := current.Clone()
	var unblocks, blocks []Action
	var transitions []Transition

	for _, addr := range sortedKeys(current.Blocked) {
		br := current.Blocked[addr]
		if br.BlockedUntil.After(now) {
			continue
		}
		delete(next.Blocked, addr)
		next.Unblocked[addr] = state.UnblockRecord{Address: addr, UnblockedAt: now}
		unblocks = append(unblocks, Action{Kind: ActionUnblock, Address: addr})
		transitions = append(transitions, Transition{
			Address: addr,
			From:    StatusBlocked,
			To:      StatusUnblocked,
			Reason:  ReasonExpired,
			At:      now,
		})
	}

	for _, addr := range sortedKeys(events) {
		attempts := len(events[addr])
		if _, ok := next.Blocked[addr]; ok {
			continue
		}
		from := StatusUnknown
		reason := ReasonThreshold
		if ur, ok := next.Unblocked[addr]; ok {
			if now.Sub(ur.UnblockedAt) <= p.ReblockAfter {
				continue
			}
			from = StatusUnblocked
			reason = ReasonReblocked
		}
		if attempts < p.FailedAttemptsThreshold {
			continue
		}
		delete(next.Unblocked, addr)
		next.Blocked[addr] = state.BlockRecord{
			Address:      addr,
			BlockedFrom:  now,
			BlockedUntil: now.Add(p.BlockDuration),
		}
		blocks = append(blocks, Action{Kind: ActionBlock, Address: addr})
		transitions = append(transitions, Transition{
			Address:  addr,
			From:     from,
			To:       StatusBlocked,
			Attempts: attempts,
			Reason:   reason,
			At:       now,
		})
	}

	if p.UnblockedRetention > 0 {
		for _, addr := range sortedKeys(next.Unblocked) {
			if _, seen := events[addr]; seen {
				continue
			}
			if now.Sub(next.Unblocked[addr].UnblockedAt) <= p.UnblockedRetention {
				continue
			}
			delete(next.Unblocked, addr)
			transitions = append(transitions, Transition{
				Address: addr,
				From:    StatusUnblocked,
				To:      StatusUnknown,
				Reason:  ReasonStalePruned,
				At:      now,
			})
		}
	}

	return Decision{
		Next:        next,
		Actions:     append(unblocks, blocks...),
		Transitions: transitions,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
