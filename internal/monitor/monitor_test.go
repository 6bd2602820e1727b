package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"torrent-bot/internal/domain"
	"torrent-bot/internal/engine"
	"torrent-bot/internal/history"
	"torrent-bot/internal/registry"
)

// fakeEngine serves canned statuses (or errors) per torrent id.
type fakeEngine struct {
	mu       sync.Mutex
	statuses map[string]engine.Status
	errs     map[string]error
	removed  []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		statuses: make(map[string]engine.Status),
		errs:     make(map[string]error),
	}
}

func (f *fakeEngine) set(id string, state domain.TorrentState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = engine.Status{ID: id, State: state}
}

func (f *fakeEngine) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeEngine) Status(id string) (engine.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		return engine.Status{}, err
	}
	st, ok := f.statuses[id]
	if !ok {
		return engine.Status{}, engine.ErrUnknownTorrent
	}
	return st, nil
}

func (f *fakeEngine) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
}

// fakeNotifier records announcements.
type fakeNotifier struct {
	mu      sync.Mutex
	records []domain.HistoryRecord
}

func (f *fakeNotifier) NotifyFinished(task domain.Task, record domain.HistoryRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeJournal records deletions.
type fakeJournal struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeJournal) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fixture struct {
	monitor  *Monitor
	registry *registry.Registry
	history  *history.Store
	engine   *fakeEngine
	notifier *fakeNotifier
	journal  *fakeJournal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.json"), logger)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}

	reg := registry.New()
	eng := newFakeEngine()
	journal := &fakeJournal{}

	m := New(Config{
		Interval:     time.Second,
		ErrorBackoff: 2 * time.Second,
		Logger:       logger,
	}, reg, hist, eng, journal)

	notifier := &fakeNotifier{}
	m.SetNotifier(notifier)

	return &fixture{
		monitor:  m,
		registry: reg,
		history:  hist,
		engine:   eng,
		notifier: notifier,
		journal:  journal,
	}
}

func (fx *fixture) insert(t *testing.T, id, name, requester string) {
	t.Helper()
	task := domain.Task{ID: id, Name: name, Requester: requester, StartedAt: time.Now()}
	if err := fx.registry.Insert(id, task); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func (fx *fixture) waitNotified(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for fx.notifier.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d notifications, got %d", n, fx.notifier.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCycleKeepsDownloadingTask(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "abc", "Ubuntu ISO", "alice")
	fx.engine.set("abc", domain.StateDownloading)

	if err := fx.monitor.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if _, err := fx.registry.Get("abc"); err != nil {
		t.Errorf("Task should remain active: %v", err)
	}
	if fx.history.Len() != 0 {
		t.Errorf("History should be unchanged, got %d records", fx.history.Len())
	}
	if fx.notifier.count() != 0 {
		t.Errorf("No notification expected, got %d", fx.notifier.count())
	}
}

func TestCyclePromotesFinishedTask(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "abc", "Ubuntu ISO", "alice")
	fx.engine.set("abc", domain.StateDownloading)

	if err := fx.monitor.runCycle(context.Background()); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}

	fx.engine.set("abc", domain.StateFinished)
	if err := fx.monitor.runCycle(context.Background()); err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}

	if _, err := fx.registry.Get("abc"); !errors.Is(err, registry.ErrTaskNotFound) {
		t.Errorf("Task should have left the registry, got %v", err)
	}

	records := fx.history.All()
	if len(records) != 1 {
		t.Fatalf("Expected 1 history record, got %d", len(records))
	}
	if records[0].Name != "Ubuntu ISO" || records[0].Requester != "alice" {
		t.Errorf("Unexpected record: %+v", records[0])
	}
	if records[0].Status != domain.RecordCompleted {
		t.Errorf("Expected status completed, got %q", records[0].Status)
	}
	if records[0].CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	fx.waitNotified(t, 1)

	fx.engine.mu.Lock()
	removed := len(fx.engine.removed)
	fx.engine.mu.Unlock()
	if removed != 1 {
		t.Errorf("Expected engine handle dropped once, got %d", removed)
	}
	fx.journal.mu.Lock()
	deleted := len(fx.journal.deleted)
	fx.journal.mu.Unlock()
	if deleted != 1 {
		t.Errorf("Expected journal entry cleared once, got %d", deleted)
	}
}

func TestSeedingIsTerminal(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "abc", "Ubuntu ISO", "alice")
	fx.engine.set("abc", domain.StateSeeding)

	if err := fx.monitor.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if fx.registry.Len() != 0 {
		t.Error("Seeding task should have been promoted")
	}
	if fx.history.Len() != 1 {
		t.Errorf("Expected 1 history record, got %d", fx.history.Len())
	}
}

func TestCycleIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "abc", "Ubuntu ISO", "alice")
	fx.engine.set("abc", domain.StateFinished)

	if err := fx.monitor.runCycle(context.Background()); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
	// nothing changed at the engine; a second cycle must not duplicate
	if err := fx.monitor.runCycle(context.Background()); err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}

	if fx.history.Len() != 1 {
		t.Errorf("Expected exactly 1 history record, got %d", fx.history.Len())
	}
	if fx.registry.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", fx.registry.Len())
	}
}

func TestEngineFailureLeavesTaskActive(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "xyz", "Flaky", "bob")
	fx.engine.fail("xyz", fmt.Errorf("handle invalidated"))

	err := fx.monitor.runCycle(context.Background())
	if err == nil {
		t.Fatal("Expected cycle to report the engine failure for backoff")
	}

	if _, getErr := fx.registry.Get("xyz"); getErr != nil {
		t.Errorf("Task must stay active after engine failure: %v", getErr)
	}
	if fx.history.Len() != 0 {
		t.Errorf("No history record expected, got %d", fx.history.Len())
	}

	// next cycle recovers once the engine answers again
	fx.engine.mu.Lock()
	delete(fx.engine.errs, "xyz")
	fx.engine.mu.Unlock()
	fx.engine.set("xyz", domain.StateFinished)

	if err := fx.monitor.runCycle(context.Background()); err != nil {
		t.Fatalf("recovery cycle failed: %v", err)
	}
	if fx.history.Len() != 1 {
		t.Errorf("Expected promotion after recovery, got %d records", fx.history.Len())
	}
}

func TestFailureDoesNotBlockOtherTasks(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "bad", "Broken", "bob")
	fx.insert(t, "good", "Fine", "alice")
	fx.engine.fail("bad", fmt.Errorf("boom"))
	fx.engine.set("good", domain.StateFinished)

	_ = fx.monitor.runCycle(context.Background())

	if _, err := fx.registry.Get("bad"); err != nil {
		t.Errorf("Failing task should stay: %v", err)
	}
	if _, err := fx.registry.Get("good"); !errors.Is(err, registry.ErrTaskNotFound) {
		t.Errorf("Healthy task should have been promoted, got %v", err)
	}
}

func TestFailedStateWritesFailedRecord(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "abc", "Dead magnet", "alice")
	fx.engine.set("abc", domain.StateFailed)

	if err := fx.monitor.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	records := fx.history.All()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Status != domain.RecordFailed {
		t.Errorf("Expected failed status, got %q", records[0].Status)
	}
	fx.waitNotified(t, 1)
}

func TestCompleteExactlyOnceUnderRace(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "abc", "Ubuntu ISO", "alice")
	st := engine.Status{ID: "abc", State: domain.StateFinished}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = fx.monitor.Complete(context.Background(), "abc", st)
		}()
	}
	wg.Wait()

	if fx.history.Len() != 1 {
		t.Errorf("Expected exactly 1 record from 10 racing completions, got %d", fx.history.Len())
	}
	fx.waitNotified(t, 1)
	time.Sleep(20 * time.Millisecond)
	if fx.notifier.count() != 1 {
		t.Errorf("Expected exactly 1 notification, got %d", fx.notifier.count())
	}
}

func TestCompleteUsesEngineName(t *testing.T) {
	fx := newFixture(t)
	// name unresolved at insert time
	fx.insert(t, "abc", "", "alice")

	st := engine.Status{ID: "abc", Name: "Ubuntu ISO", State: domain.StateFinished}
	if err := fx.monitor.Complete(context.Background(), "abc", st); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	records := fx.history.All()
	if len(records) != 1 || records[0].Name != "Ubuntu ISO" {
		t.Errorf("Expected engine-resolved name in record, got %+v", records)
	}
}

func TestSafeCycleContainsPanic(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "abc", "Ubuntu ISO", "alice")
	// a nil map entry through the panic path: use an engine that panics
	fx.monitor.engine = panickyEngine{}

	err := fx.monitor.safeCycle(context.Background())
	if err == nil {
		t.Fatal("Expected panic converted to error")
	}
}

type panickyEngine struct{}

func (panickyEngine) Status(string) (engine.Status, error) { panic("boom") }
func (panickyEngine) Remove(string)                        {}

func TestStartStopLifecycle(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "abc", "Ubuntu ISO", "alice")
	fx.engine.set("abc", domain.StateFinished)

	fx.monitor.cfg.Interval = 10 * time.Millisecond
	fx.monitor.cfg.ErrorBackoff = 20 * time.Millisecond

	ctx := context.Background()
	fx.monitor.Start(ctx)
	fx.waitNotified(t, 1)
	fx.monitor.Stop()

	// Stop is synchronous; the loop goroutine is gone
	select {
	case <-fx.monitor.done:
	default:
		t.Error("done channel not closed after Stop")
	}
}
