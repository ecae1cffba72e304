// Package txn implements the transaction coordinator: atomic multi-step
// configuration changes against the proxy admin API with automatic
// rollback, advisory per-resource locking, and a bounded audit history.
//
// # Overview
//
// Callers wrap a unit of configuration work in WithTransaction. The
// coordinator opens a proxy-side transaction (failing fast when the health
// gate is open), hands the work function a handle exposing the transaction
// id, change recording, and resource locks, and then commits. Any failure,
// including a dry-run validation rejection and the per-transaction
// wall-clock timeout, triggers a rollback instead.
//
//	err := coord.WithTransaction(ctx, txn.Options{
//	    Description:          "rebalance backend web",
//	    ValidateBeforeCommit: true,
//	}, func(tx *txn.Tx) error {
//	    if err := tx.AcquireLock("backend/web"); err != nil {
//	        return err
//	    }
//	    if err := client.UpdateServerWeight(ctx, "web", "web-1", 120, tx.ID()); err != nil {
//	        return err
//	    }
//	    tx.RecordChange(txn.Change{Kind: txn.ChangeServerWeight, Target: "web/web-1", Before: 100, After: 120})
//	    return nil
//	})
//
// # Locking
//
// Locks are advisory: they serialize this process's own transactions, not
// the proxy. Two transactions touching the same resource without acquiring
// its lock may interleave; that is the caller's responsibility. A lock held
// past its TTL may be taken over by another transaction.
//
// # Cache consistency
//
// When a ConfigCache is attached, recorded changes are applied to it only
// after a successful commit. A failed, rolled-back, or timed-out
// transaction leaves the cache untouched.
package txn
