package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Murilovisque/logs/v3"

	"authlog-blocker/config"
	"authlog-blocker/domain/audit"
	"authlog-blocker/domain/blocker"
	"authlog-blocker/domain/state"
	"authlog-blocker/metrics"
)

// Runner holds the long-lived collaborators shared by every pass.
type Runner struct {
	config  *config.Config
	store   StateStore
	blocker blocker.Blocker
	audit   *audit.Log
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRunner(c *config.Config, b blocker.Blocker, store StateStore, a *audit.Log, m *metrics.Metrics) *Runner {
	return &Runner{
		config:  c,
		store:   store,
		blocker: b,
		audit:   a,
		metrics: m,
		now:     time.Now,
	}
}

func (r *Runner) NewRunContext() *RunContext {
	rc := NewRunContext(r.now())
	rc.LogFile = r.config.LogFile
	rc.AllowList = r.config.AllowList
	rc.Policy = r.config.Policy
	rc.Store = r.store
	rc.Blocker = r.blocker
	rc.Audit = r.audit
	rc.Metrics = r.metrics
	rc.DryRun = r.config.DryRun
	return rc
}

func (r *Runner) RunOnce() (Report, error) {
	return r.NewRunContext().Run()
}

// Loop runs a pass immediately and then once per interval until stop is closed. Passes never
// overlap; a failed pass is logged and the next tick retries.
func (r *Runner) Loop(interval time.Duration, stop <-chan struct{}) {
	r.runLogged()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.runLogged()
		}
	}
}

func (r *Runner) runLogged() {
	report, err := r.RunOnce()
	if err != nil {
		logs.Error(fmt.Errorf("run %s failed. Error: %w", report.RunID, err))
		return
	}
	logs.Infof("run %s finished: %d blocked, %d unblocked, %d pruned, %d unconfirmed",
		report.RunID, report.Blocked, report.Unblocked, report.Pruned, len(report.Unconfirmed))
}

func Start(c *config.Config) error {
	b, err := blocker.New(c.Blocker)
	if err != nil {
		return err
	}
	logs.Infof("blocker '%s' of type '%s' ready", b.GetName(), c.Blocker.Type)
	auditLog := audit.Open(c.AuditFile)
	defer auditLog.Close()
	store := state.NewStore(c.BlockedStateFile, c.UnblockedStateFile)

	if c.RunInterval == 0 {
		r := NewRunner(c, b, store, auditLog, nil)
		report, err := r.RunOnce()
		if err != nil {
			return err
		}
		logs.Infof("run %s finished: %d blocked, %d unblocked, %d pruned, %d unconfirmed",
			report.RunID, report.Blocked, report.Unblocked, report.Pruned, len(report.Unconfirmed))
		return nil
	}

	m := metrics.New()
	if c.MetricsAddress != "" {
		m.StartServer(c.MetricsAddress)
	}
	r := NewRunner(c, b, store, auditLog, m)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Loop(c.RunInterval, stop)
	}()
	logs.Infof("running every %v", c.RunInterval)
	prepareStopHandler(stop)
	<-done
	if err := m.StopServer(); err != nil {
		logs.Error(err)
	}
	logs.Info("Runner stopped")
	return nil
}

// prepareStopHandler closes stop on SIGINT or SIGTERM. A pass in progress completes first,
// the loop only checks stop between passes.
func prepareStopHandler(stop chan<- struct{}) {
	chSignal := make(chan os.Signal, 1)
	signal.Notify(chSignal, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-chSignal
		logs.Infof("signal received %v, stopping app...", s)
		signal.Stop(chSignal)
		close(stop)
	}()
}
