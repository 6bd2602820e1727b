// Package monitor runs the background loop that watches active downloads
// and promotes terminal ones to history. The same transition is applied
// opportunistically from the /status command path, so it lives in one
// place here (Complete).
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"torrent-bot/internal/domain"
	"torrent-bot/internal/engine"
	"torrent-bot/internal/history"
	"torrent-bot/internal/registry"
)

// StatusQuerier is the slice of the engine the monitor depends on.
type StatusQuerier interface {
	Status(id string) (engine.Status, error)
	Remove(id string)
}

// Notifier delivers terminal-state announcements. Failures are the
// notifier's problem; a transition is never blocked or reverted by one.
type Notifier interface {
	NotifyFinished(task domain.Task, record domain.HistoryRecord)
}

// Journal is the optional durable bookkeeping for active tasks, cleared
// when a task leaves the registry.
type Journal interface {
	Delete(ctx context.Context, id string) error
}

type Config struct {
	// Interval between cycles; after a cycle error the next wait degrades
	// to ErrorBackoff so a persistent engine failure cannot hot-loop.
	Interval     time.Duration
	ErrorBackoff time.Duration
	Logger       *logrus.Logger
}

// Monitor polls every active download on a fixed period and moves
// completed ones into the history store.
type Monitor struct {
	cfg      Config
	registry *registry.Registry
	history  *history.Store
	engine   StatusQuerier
	notifier Notifier
	journal  Journal

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, reg *registry.Registry, hist *history.Store, eng StatusQuerier, journal Journal) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ErrorBackoff < cfg.Interval {
		cfg.ErrorBackoff = 2 * cfg.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Monitor{
		cfg:      cfg,
		registry: reg,
		history:  hist,
		engine:   eng,
		journal:  journal,
	}
}

// SetNotifier registers the announcement sink. Must be called before Start;
// the bot and the monitor reference each other, so the notifier arrives
// after construction.
func (m *Monitor) SetNotifier(n Notifier) {
	m.notifier = n
}

// Start launches the background loop. Stop cancels it and waits for the
// in-flight cycle to finish.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx)
	m.cfg.Logger.Infof("download monitor started, interval %s", m.cfg.Interval)
}

func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cfg.Logger.Info("download monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	for {
		wait := m.cfg.Interval
		if err := m.safeCycle(ctx); err != nil {
			m.cfg.Logger.Errorf("monitor cycle: %v", err)
			wait = m.cfg.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// safeCycle contains a cycle's panics; the loop itself must never die.
func (m *Monitor) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return m.runCycle(ctx)
}

// runCycle takes a registry snapshot and checks every task once. Engine
// query failures keep the task in place for the next cycle; they are
// reported so the loop backs off, never so it stops.
func (m *Monitor) runCycle(ctx context.Context) error {
	var firstErr error
	for _, e := range m.registry.Snapshot() {
		st, err := m.engine.Status(e.ID)
		if err != nil {
			m.cfg.Logger.Warnf("status query for %s (%s): %v", e.ID, e.Task.DisplayName(), err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if !st.State.Terminal() {
			continue
		}
		if err := m.Complete(ctx, e.ID, st); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Complete performs the exactly-once terminal transition for a task:
// remove from the registry, append to history, drop the engine handle,
// clear the journal, announce. A task already removed by a concurrent
// caller is a no-op. The returned error reports persistence trouble for
// backoff accounting; the transition itself always stands.
func (m *Monitor) Complete(ctx context.Context, id string, st engine.Status) error {
	task, err := m.registry.Remove(id)
	if err != nil {
		// Lost the race with another call site; the transition happened.
		return nil
	}

	name := task.DisplayName()
	if st.Name != "" {
		name = st.Name
	}
	status := domain.RecordCompleted
	if st.State == domain.StateFailed {
		status = domain.RecordFailed
	}

	record := domain.HistoryRecord{
		Name:        name,
		Requester:   task.Requester,
		CompletedAt: time.Now().UTC(),
		Status:      status,
	}

	var persistErr error
	if err := m.history.Append(record); err != nil {
		// The store keeps the record in memory and carries it into the
		// next successful write; losing it silently is the one thing
		// that must not happen.
		m.cfg.Logger.Errorf("append history for %s: %v", name, err)
		persistErr = err
	}

	m.engine.Remove(id)

	if m.journal != nil {
		if err := m.journal.Delete(ctx, id); err != nil {
			m.cfg.Logger.Warnf("clear journal entry %s: %v", id, err)
		}
	}

	if m.notifier != nil {
		go m.notifier.NotifyFinished(task, record)
	}

	m.cfg.Logger.Infof("download %s: %s (requested by %s)", status, name, task.Requester)
	return persistErr
}
