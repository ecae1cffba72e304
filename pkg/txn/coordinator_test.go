package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"tiller-hq/tiller/internal/dataplanetest"
	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/events"
	"tiller-hq/tiller/pkg/gate"
)

type fixture struct {
	mock  *dataplanetest.Server
	coord *Coordinator
	cache *ConfigCache
	bus   *events.Bus
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	mock := dataplanetest.New()
	t.Cleanup(mock.Close)

	mock.AddBackend(dataplane.Backend{
		Name:    "web",
		Mode:    dataplane.ModeHTTP,
		Balance: "roundrobin",
		Servers: []dataplane.Server{
			{Name: "web-1", Address: "10.0.0.1", Port: 8080, Weight: 100},
			{Name: "web-2", Address: "10.0.0.2", Port: 8080, Weight: 100},
		},
	})

	client, err := dataplane.New(dataplane.Config{
		BaseURL:  mock.URL(),
		Username: "admin",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("dataplane.New() error = %v", err)
	}
	t.Cleanup(client.Close)

	cache := NewConfigCache()
	backends, err := client.GetBackends(context.Background())
	if err != nil {
		t.Fatalf("GetBackends() error = %v", err)
	}
	cache.Replace(backends, nil, nil)

	bus := events.NewBus(events.Config{BufferSize: 16})

	cfg.Client = client
	if cfg.Gate == nil {
		cfg.Gate = gate.New(gate.Config{FailureThreshold: 5, ResetTimeout: time.Minute})
	}
	cfg.Cache = cache
	cfg.Bus = bus

	coord, err := NewCoordinator(cfg)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	return &fixture{mock: mock, coord: coord, cache: cache, bus: bus}
}

func cachedWeight(t *testing.T, cache *ConfigCache, backend, server string) int {
	t.Helper()
	b, ok := cache.Backend(backend)
	if !ok {
		t.Fatalf("backend %s not in cache", backend)
	}
	for _, s := range b.Servers {
		if s.Name == server {
			return s.Weight
		}
	}
	t.Fatalf("server %s not in cached backend %s", server, backend)
	return 0
}

func TestCommitAppliesChangesAndCache(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	err := f.coord.WithTransaction(ctx, Options{Description: "rebalance web"}, func(tx *Tx) error {
		if err := tx.AcquireLock("backend/web"); err != nil {
			return err
		}
		if err := f.coord.client.UpdateServerWeight(ctx, "web", "web-1", 150, tx.ID()); err != nil {
			return err
		}
		tx.RecordChange(Change{
			Kind:   ChangeServerWeight,
			Target: "web/web-1",
			Before: 100,
			After:  150,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v", err)
	}

	if got := f.mock.ServerWeight("web", "web-1"); got != 150 {
		t.Errorf("proxy weight = %d, want 150", got)
	}
	if got := cachedWeight(t, f.cache, "web", "web-1"); got != 150 {
		t.Errorf("cached weight = %d, want 150", got)
	}

	history := f.coord.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	rec := history[0]
	if rec.Status != StatusCommitted {
		t.Errorf("history status = %s, want committed", rec.Status)
	}
	if len(rec.Changes) != 1 || rec.Changes[0].Kind != ChangeServerWeight {
		t.Errorf("history changes = %+v", rec.Changes)
	}
	if f.coord.LockHolder("backend/web") != nil {
		t.Error("lock still held after commit")
	}
}

func TestWorkErrorRollsBackAndLeavesCacheUnchanged(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	wantErr := errors.New("work exploded")
	err := f.coord.WithTransaction(ctx, Options{}, func(tx *Tx) error {
		if err := f.coord.client.UpdateServerWeight(ctx, "web", "web-1", 9, tx.ID()); err != nil {
			return err
		}
		tx.RecordChange(Change{Kind: ChangeServerWeight, Target: "web/web-1", Before: 100, After: 9})
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTransaction() error = %v, want original work error", err)
	}
	if got := f.mock.ServerWeight("web", "web-1"); got != 100 {
		t.Errorf("proxy weight = %d, want 100 (rolled back)", got)
	}
	if got := cachedWeight(t, f.cache, "web", "web-1"); got != 100 {
		t.Errorf("cached weight = %d, want 100 (cache untouched)", got)
	}

	history := f.coord.History()
	if len(history) != 1 || history[0].Status != StatusRolledBack {
		t.Fatalf("history = %+v, want one rolled_back record", history)
	}
	if history[0].RollbackReason != "work failed" {
		t.Errorf("RollbackReason = %q, want \"work failed\"", history[0].RollbackReason)
	}
}

func TestValidationFailureRollsBack(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.mock.FailValidation("duplicate server name")

	err := f.coord.WithTransaction(ctx, Options{ValidateBeforeCommit: true}, func(tx *Tx) error {
		tx.RecordChange(Change{Kind: ChangeServerWeight, Target: "web/web-1", Before: 100, After: 50})
		return f.coord.client.UpdateServerWeight(ctx, "web", "web-1", 50, tx.ID())
	})

	if !errors.Is(err, dataplane.ErrValidationFailed) {
		t.Fatalf("WithTransaction() error = %v, want ErrValidationFailed", err)
	}
	var vErr *ValidationFailedError
	if !errors.As(err, &vErr) {
		t.Fatalf("error %v is not a *ValidationFailedError", err)
	}

	if got := f.mock.ServerWeight("web", "web-1"); got != 100 {
		t.Errorf("proxy weight = %d, want 100", got)
	}
	if got := cachedWeight(t, f.cache, "web", "web-1"); got != 100 {
		t.Errorf("cached weight = %d, want 100", got)
	}
}

func TestTimeoutForcesRollback(t *testing.T) {
	f := newFixture(t, Config{DefaultTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	blocked := make(chan struct{})
	defer close(blocked)

	err := f.coord.WithTransaction(ctx, Options{}, func(tx *Tx) error {
		<-blocked // never returns within the timeout
		return nil
	})

	if !errors.Is(err, ErrTransactionTimeout) {
		t.Fatalf("WithTransaction() error = %v, want ErrTransactionTimeout", err)
	}

	history := f.coord.History()
	if len(history) != 1 || history[0].Status != StatusRolledBack {
		t.Fatalf("history = %+v, want one rolled_back record", history)
	}
	if history[0].RollbackReason != "timed out" {
		t.Errorf("RollbackReason = %q, want \"timed out\"", history[0].RollbackReason)
	}
}

func TestAbortIsCleanNoOp(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.coord.WithTransaction(context.Background(), Options{}, func(tx *Tx) error {
		return ErrAbort
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v, want nil for aborted no-op", err)
	}

	history := f.coord.History()
	if len(history) != 1 || history[0].Status != StatusRolledBack {
		t.Fatalf("history = %+v, want one rolled_back record", history)
	}
	if history[0].RollbackReason != "aborted" {
		t.Errorf("RollbackReason = %q, want \"aborted\"", history[0].RollbackReason)
	}
	if f.mock.OpenTransactionCount() != 0 {
		t.Errorf("open proxy transactions = %d, want 0", f.mock.OpenTransactionCount())
	}
}

func TestGateOpenFailsFast(t *testing.T) {
	g := gate.New(gate.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	f := newFixture(t, Config{Gate: g})
	ctx := context.Background()

	// Trip the gate.
	_ = g.Execute(ctx, "op", func(ctx context.Context) error {
		return errors.New("proxy down")
	})

	before := f.mock.RequestCount("")
	err := f.coord.WithTransaction(ctx, Options{}, func(tx *Tx) error {
		t.Error("work must not run while gate is open")
		return nil
	})

	if !errors.Is(err, gate.ErrGateOpen) {
		t.Fatalf("WithTransaction() error = %v, want ErrGateOpen", err)
	}
	if after := f.mock.RequestCount(""); after != before {
		t.Errorf("requests issued while gate open: %d", after-before)
	}
}

func TestTransactionEvents(t *testing.T) {
	f := newFixture(t, Config{})

	ch, cancel := f.bus.Subscribe(events.TypeTransactionStarted, events.TypeTransactionCommitted)
	defer cancel()

	err := f.coord.WithTransaction(context.Background(), Options{Description: "noop commit"}, func(tx *Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v", err)
	}

	want := []events.Type{events.TypeTransactionStarted, events.TypeTransactionCommitted}
	for i, wantType := range want {
		select {
		case evt := <-ch:
			if evt.Type != wantType {
				t.Errorf("event %d = %s, want %s", i, evt.Type, wantType)
			}
			rec, ok := evt.Payload.(*Transaction)
			if !ok {
				t.Fatalf("event %d payload is %T, want *Transaction", i, evt.Payload)
			}
			if rec.Description != "noop commit" {
				t.Errorf("event %d description = %q", i, rec.Description)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d (%s)", i, wantType)
		}
	}
}

func TestShutdownRollsBackActiveTransactions(t *testing.T) {
	f := newFixture(t, Config{DefaultTimeout: time.Minute})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- f.coord.WithTransaction(context.Background(), Options{}, func(tx *Tx) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	f.coord.Shutdown(context.Background())
	close(release)
	<-done

	if f.mock.OpenTransactionCount() != 0 {
		t.Errorf("open proxy transactions after shutdown = %d, want 0", f.mock.OpenTransactionCount())
	}

	// New transactions are rejected after shutdown.
	err := f.coord.WithTransaction(context.Background(), Options{}, func(tx *Tx) error {
		return nil
	})
	if err == nil {
		t.Error("WithTransaction() after Shutdown should fail")
	}
}
