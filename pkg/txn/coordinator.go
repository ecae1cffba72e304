package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/events"
	"tiller-hq/tiller/pkg/gate"
)

// ErrTransactionTimeout is returned when a transaction exceeds its
// wall-clock lifetime and is force-rolled-back.
var ErrTransactionTimeout = errors.New("transaction timed out")

// ErrAbort, returned from a work function, rolls the transaction back as a
// deliberate no-op: WithTransaction returns nil. Used when a batch turns
// out to be empty after the transaction was already opened.
var ErrAbort = errors.New("transaction aborted")

// ValidationFailedError is returned when the proxy's dry-run validator
// rejects the pending configuration; the transaction has already been
// rolled back when the caller sees it.
type ValidationFailedError struct {
	// TransactionID is the rolled-back transaction.
	TransactionID string

	// Cause is the underlying dataplane validation error.
	Cause error
}

// Error implements the error interface.
func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("transaction %s rolled back: %v", e.TransactionID, e.Cause)
}

// Is implements error matching for errors.Is().
func (e *ValidationFailedError) Is(target error) bool {
	return target == dataplane.ErrValidationFailed
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *ValidationFailedError) Unwrap() error {
	return e.Cause
}

// Options configures a single WithTransaction call.
type Options struct {
	// Description is a human-readable summary, kept on the audit record.
	Description string

	// Metadata is free-form caller context, kept on the audit record.
	Metadata map[string]string

	// ValidateBeforeCommit runs the proxy's dry-run validation before
	// committing; a rejection rolls the transaction back.
	ValidateBeforeCommit bool

	// Timeout overrides the coordinator's default transaction timeout.
	Timeout time.Duration
}

// Tx is the handle passed to transaction work functions.
type Tx struct {
	coord *Coordinator

	mu       sync.Mutex
	record   *Transaction
	terminal bool
}

// ID returns the proxy-assigned transaction id, for scoping dataplane
// calls to this transaction.
func (t *Tx) ID() string {
	return t.record.ID
}

// RecordChange appends a change to the transaction's audit trail. Changes
// recorded after the transaction has completed (e.g. by work still running
// past a timeout) are ignored.
func (t *Tx) RecordChange(c Change) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal {
		return
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	t.record.Changes = append(t.record.Changes, c)
}

// AcquireLock acquires the advisory lock for a resource on behalf of this
// transaction. It returns ErrLockHeld (as a *LockHeldError) when another
// live transaction holds it. Held locks are released when the transaction
// completes.
func (t *Tx) AcquireLock(resource string) error {
	return t.coord.locks.acquire(resource, t.record.ID)
}

// ReleaseLock releases a single resource lock before completion.
func (t *Tx) ReleaseLock(resource string) {
	t.coord.locks.release(resource, t.record.ID)
}

// markTerminal flips the handle into its completed state, after which
// RecordChange is a no-op. Returns a snapshot of the recorded changes.
func (t *Tx) markTerminal() []Change {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminal = true
	return t.record.Changes
}

// Config contains configuration for the Coordinator.
type Config struct {
	// Client is the proxy admin API client.
	Client *dataplane.Client

	// Gate wraps all proxy API calls issued by the coordinator.
	Gate *gate.Gate

	// Cache, when set, receives committed changes and stays untouched by
	// rollbacks.
	Cache *ConfigCache

	// Bus receives transaction lifecycle events. Optional.
	Bus *events.Bus

	// DefaultTimeout is the per-transaction wall-clock timeout.
	// Default: 30 seconds.
	DefaultTimeout time.Duration

	// LockTTL is the advisory lock lifetime. Default: 2x DefaultTimeout.
	LockTTL time.Duration

	// HistorySize bounds the completed-transaction history.
	// Default: 50.
	HistorySize int

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// now overrides the clock in tests.
	now func() time.Time
}

// Coordinator opens, commits, and rolls back configuration transactions.
type Coordinator struct {
	client *dataplane.Client
	gate   *gate.Gate
	cache  *ConfigCache
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time

	defaultTimeout time.Duration
	historySize    int

	locks *lockTable

	mu      sync.Mutex
	active  map[string]*Tx
	history []*Transaction
	closed  bool
}

// NewCoordinator creates a new transaction coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.DefaultTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	logger := cfg.Logger.With("component", "txn")

	return &Coordinator{
		client:         cfg.Client,
		gate:           cfg.Gate,
		cache:          cfg.Cache,
		bus:            cfg.Bus,
		logger:         logger,
		now:            cfg.now,
		defaultTimeout: cfg.DefaultTimeout,
		historySize:    cfg.HistorySize,
		locks:          newLockTable(cfg.LockTTL, logger, cfg.now),
		active:         make(map[string]*Tx),
	}, nil
}

// WithTransaction opens a proxy transaction, runs work with its handle,
// and commits on success. On any failure (an error or panic from work, a
// validation rejection, a commit error, or the wall-clock timeout) the
// transaction is rolled back and the original error propagates. Rollback
// failures are logged, never returned in place of the original error.
func (c *Coordinator) WithTransaction(ctx context.Context, opts Options, work func(tx *Tx) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("coordinator is shut down")
	}
	c.mu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	proxyTxn, err := gate.Call(c.gate, ctx, "create transaction",
		func(ctx context.Context) (*dataplane.Transaction, error) {
			return c.client.CreateTransaction(ctx)
		})
	if err != nil {
		return err
	}

	tx := &Tx{
		coord: c,
		record: &Transaction{
			ID:          proxyTxn.ID,
			Description: opts.Description,
			Metadata:    opts.Metadata,
			Status:      StatusActive,
			StartedAt:   c.now(),
		},
	}

	c.mu.Lock()
	c.active[tx.record.ID] = tx
	c.mu.Unlock()

	c.logger.Info("transaction started",
		"transaction_id", tx.record.ID,
		"description", opts.Description,
	)
	c.publish(events.TypeTransactionStarted, tx.record)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("transaction work panicked: %v", r)
			}
		}()
		done <- work(tx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case workErr := <-done:
		if errors.Is(workErr, ErrAbort) {
			c.finishRollback(ctx, tx, "aborted")
			return nil
		}
		if workErr != nil {
			c.finishRollback(ctx, tx, "work failed")
			return workErr
		}

	case <-timer.C:
		c.finishRollback(ctx, tx, "timed out")
		return fmt.Errorf("transaction %s: %w after %s", tx.record.ID, ErrTransactionTimeout, timeout)

	case <-ctx.Done():
		c.finishRollback(ctx, tx, "context cancelled")
		return ctx.Err()
	}

	// Shutdown may have force-rolled-back the transaction while work was
	// still running; committing it now would resurrect discarded changes.
	if !c.claim(tx) {
		return fmt.Errorf("transaction %s was force-rolled-back", tx.record.ID)
	}

	if opts.ValidateBeforeCommit {
		err := c.gate.Execute(ctx, "validate configuration", func(ctx context.Context) error {
			return c.client.ValidateConfiguration(ctx, tx.record.ID)
		})
		if err != nil {
			c.rollbackClaimed(ctx, tx, "validation failed")
			if errors.Is(err, dataplane.ErrValidationFailed) {
				return &ValidationFailedError{TransactionID: tx.record.ID, Cause: err}
			}
			return err
		}
	}

	err = c.gate.Execute(ctx, "commit transaction", func(ctx context.Context) error {
		return c.client.CommitTransaction(ctx, tx.record.ID)
	})
	if err != nil {
		c.rollbackClaimed(ctx, tx, "commit failed")
		return err
	}

	changes := tx.markTerminal()
	if c.cache != nil {
		c.cache.apply(changes)
	}
	c.finalize(tx, StatusCommitted, "")

	c.logger.Info("transaction committed",
		"transaction_id", tx.record.ID,
		"changes", len(changes),
	)
	c.publish(events.TypeTransactionCommitted, tx.record)
	return nil
}

// rollbackProxy issues the proxy-side rollback through the gate.
func (c *Coordinator) rollbackProxy(ctx context.Context, id string) error {
	return c.gate.Execute(ctx, "rollback transaction", func(ctx context.Context) error {
		return c.client.RollbackTransaction(ctx, id)
	})
}

// claim takes exclusive ownership of a still-active transaction's
// completion. It returns false when the transaction was already completed
// (e.g. force-rolled-back by Shutdown).
func (c *Coordinator) claim(tx *Tx) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[tx.record.ID]; !ok {
		return false
	}
	delete(c.active, tx.record.ID)
	return true
}

// finishRollback claims and rolls back a transaction. A transaction that
// was already completed elsewhere is left alone.
func (c *Coordinator) finishRollback(ctx context.Context, tx *Tx, reason string) {
	if !c.claim(tx) {
		return
	}
	c.rollbackClaimed(ctx, tx, reason)
}

// rollbackClaimed rolls back a transaction the caller has already claimed.
// Rollback failures are logged but never surfaced to the caller.
func (c *Coordinator) rollbackClaimed(ctx context.Context, tx *Tx, reason string) {
	tx.markTerminal()

	// Roll back with a fresh context so a cancelled caller context does
	// not strand the proxy-side transaction.
	rbCtx := ctx
	if rbCtx.Err() != nil {
		var cancel context.CancelFunc
		rbCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	if err := c.rollbackProxy(rbCtx, tx.record.ID); err != nil {
		c.logger.Error("rollback failed",
			"transaction_id", tx.record.ID,
			"reason", reason,
			"error", err,
		)
	}

	c.finalize(tx, StatusRolledBack, reason)

	c.logger.Warn("transaction rolled back",
		"transaction_id", tx.record.ID,
		"reason", reason,
	)
	c.publish(events.TypeTransactionRolledBack, tx.record)
}

// finalize records the outcome, releases locks, and appends to history.
// The caller must have claimed the transaction.
func (c *Coordinator) finalize(tx *Tx, status Status, reason string) {
	tx.record.Status = status
	tx.record.EndedAt = c.now()
	tx.record.RollbackReason = reason

	released := c.locks.releaseAll(tx.record.ID)
	if len(released) > 0 {
		c.logger.Debug("released transaction locks",
			"transaction_id", tx.record.ID,
			"resources", released,
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, tx.record)
	if len(c.history) > c.historySize {
		c.history = c.history[len(c.history)-c.historySize:]
	}
}

// History returns the retained completed transactions, oldest first.
func (c *Coordinator) History() []*Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Transaction(nil), c.history...)
}

// ActiveCount returns the number of currently open transactions.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// LockHolder returns the live lock for a resource, or nil. Exposed for
// administrative inspection.
func (c *Coordinator) LockHolder(resource string) *ResourceLock {
	return c.locks.holder(resource)
}

// Shutdown force-rolls-back every still-active transaction and stops
// accepting new ones.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	stillActive := make([]*Tx, 0, len(c.active))
	for _, tx := range c.active {
		stillActive = append(stillActive, tx)
	}
	c.mu.Unlock()

	for _, tx := range stillActive {
		c.logger.Warn("force rolling back active transaction on shutdown",
			"transaction_id", tx.record.ID,
		)
		c.finishRollback(ctx, tx, "shutdown")
	}
}

// publish sends a lifecycle event carrying the transaction record.
func (c *Coordinator) publish(t events.Type, record *Transaction) {
	if c.bus != nil {
		c.bus.Publish(t, record)
	}
}
