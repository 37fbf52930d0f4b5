package app

import (
	"time"

	"github.com/Murilovisque/logs/v3"
	"github.com/google/uuid"

	"authlog-blocker/domain/audit"
	"authlog-blocker/domain/blocker"
	"authlog-blocker/domain/decision"
	"authlog-blocker/domain/monitor"
	"authlog-blocker/domain/state"
	"authlog-blocker/metrics"
)

type StateStore interface {
	Load() state.Snapshot
	Save(state.Snapshot) error
}

// RunContext carries everything one evaluation pass needs. It is built fresh for every pass
// and never shared between passes.
type RunContext struct {
	ID        string
	Now       time.Time
	Year      int
	LogFile   string
	AllowList *monitor.AllowList
	Policy    decision.Policy
	Store     StateStore
	Blocker   blocker.Blocker
	Audit     *audit.Log
	Metrics   *metrics.Metrics
	// DryRun skips saving, so no record claims a rule the firewall never received.
	DryRun bool
	logger logs.Logger
}

type Report struct {
	RunID     string
	Events    int
	Addresses int
	Blocked   int
	Unblocked int
	Pruned    int
	// Unconfirmed lists actions recorded in state whose firewall change failed.
	Unconfirmed []decision.Action
}

func NewRunContext(now time.Time) *RunContext {
	id := uuid.NewString()
	return &RunContext{
		ID:     id,
		Now:    now,
		Year:   now.Year(),
		logger: logs.NewChildLogger(logs.FixedFieldValue("run", id)),
	}
}

func (rc *RunContext) Run() (Report, error) {
	started := time.Now()
	report := Report{RunID: rc.ID}

	events := rc.readEvents()
	for _, evs := range events {
		report.Events += len(evs)
	}
	report.Addresses = len(events)
	rc.Metrics.AddFailureEvents(report.Events)

	current := rc.Store.Load()
	d := decision.Decide(current, events, rc.Now, rc.Policy)
	rc.logger.Infof("%d failure events from %d addresses, %d blocked and %d unblocked on record, decided: %s",
		report.Events, report.Addresses, len(current.Blocked), len(current.Unblocked), d.Summary())

	failures := rc.enforce(d.Actions)
	for _, a := range d.Actions {
		if _, failed := failures[a]; failed {
			report.Unconfirmed = append(report.Unconfirmed, a)
		}
	}
	for _, tr := range d.Transitions {
		rc.recordTransition(tr)
		if a, ok := actionFor(tr); ok {
			if err, failed := failures[a]; failed {
				rc.Audit.Appendf(rc.Now, "Enforcement failed for %s: %s", a, err)
			}
		}
		switch tr.To {
		case decision.StatusBlocked:
			report.Blocked++
		case decision.StatusUnblocked:
			report.Unblocked++
		case decision.StatusUnknown:
			report.Pruned++
		}
	}

	if rc.DryRun {
		rc.logger.Info("dry run, state files left untouched")
		rc.Metrics.ObserveRun(true, rc.Now, time.Since(started))
		return report, nil
	}
	if err := rc.Store.Save(d.Next); err != nil {
		rc.logger.Errorf("state not saved. Error: %s", err)
		rc.Audit.Appendf(rc.Now, "Error saving state: %s", err)
		rc.Metrics.ObserveRun(false, rc.Now, time.Since(started))
		return report, err
	}
	rc.Metrics.SetStateSize(len(d.Next.Blocked), len(d.Next.Unblocked))
	rc.Metrics.ObserveRun(true, rc.Now, time.Since(started))
	if len(report.Unconfirmed) > 0 {
		rc.logger.Errorf("%d firewall changes not confirmed: %v", len(report.Unconfirmed), report.Unconfirmed)
	}
	return report, nil
}

// readEvents never fails the run: an unreadable log yields whatever was read so far, and the
// pass degrades to the expiry sweep.
func (rc *RunContext) readEvents() map[string][]monitor.FailureEvent {
	lf, err := monitor.OpenLogFile(rc.LogFile)
	if err != nil {
		rc.logger.Errorf("no failure events this run. Error: %s", err)
		rc.Audit.Appendf(rc.Now, "Error reading log: %s", err)
		return map[string][]monitor.FailureEvent{}
	}
	events := monitor.GroupByAddress(monitor.NewExtractor(rc.AllowList).Events(lf.Lines(), rc.Year))
	if err := lf.Err(); err != nil {
		rc.Audit.Appendf(rc.Now, "Error reading log: %s", err)
	}
	return events
}

func (rc *RunContext) enforce(actions []decision.Action) map[decision.Action]error {
	failures := make(map[decision.Action]error)
	for _, a := range actions {
		if err := rc.apply(a); err != nil {
			rc.logger.Errorf("%s not applied, continuing. Error: %s", a, err)
			rc.Metrics.RecordEnforcementFailure(string(a.Kind))
			failures[a] = err
		}
	}
	return failures
}

func actionFor(tr decision.Transition) (decision.Action, bool) {
	switch tr.To {
	case decision.StatusBlocked:
		return decision.Action{Kind: decision.ActionBlock, Address: tr.Address}, true
	case decision.StatusUnblocked:
		return decision.Action{Kind: decision.ActionUnblock, Address: tr.Address}, true
	}
	return decision.Action{}, false
}

func (rc *RunContext) apply(a decision.Action) error {
	ip, err := blocker.ParseAddress(a.Address)
	if err != nil {
		return err
	}
	if a.Kind == decision.ActionUnblock {
		return rc.Blocker.Unblock(ip)
	}
	return rc.Blocker.Block(ip)
}

func (rc *RunContext) recordTransition(tr decision.Transition) {
	rc.Metrics.RecordTransition(string(tr.From), string(tr.To))
	switch {
	case tr.From == decision.StatusBlocked && tr.To == decision.StatusUnblocked:
		rc.Audit.Appendf(tr.At, "Unblocked IP: %s", tr.Address)
	case tr.From == decision.StatusUnblocked && tr.To == decision.StatusBlocked:
		rc.Audit.Appendf(tr.At, "Re-blocked IP: %s after continued attacks (%d failed attempts)", tr.Address, tr.Attempts)
	case tr.To == decision.StatusBlocked:
		rc.Audit.Appendf(tr.At, "Blocked new IP: %s with %d failed attempts", tr.Address, tr.Attempts)
	case tr.To == decision.StatusUnknown:
		rc.Audit.Appendf(tr.At, "Forgot IP: %s (%s)", tr.Address, tr.Reason)
	}
}
