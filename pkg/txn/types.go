package txn

import "time"

// Status is the lifecycle state of a coordinated transaction.
type Status string

const (
	// StatusActive means the transaction is open and accepting changes.
	StatusActive Status = "active"
	// StatusCommitted means the transaction was committed.
	StatusCommitted Status = "committed"
	// StatusRolledBack means the transaction was rolled back.
	StatusRolledBack Status = "rolled_back"
)

// Change kinds recorded on transactions.
const (
	// ChangeServerWeight changes a server's administrative weight.
	// Target is "backend/server"; Before and After are int weights.
	ChangeServerWeight = "server.weight"

	// ChangeCreateServer adds a server to a backend. Target is
	// "backend/server"; After is the dataplane.Server definition.
	ChangeCreateServer = "server.create"

	// ChangeCreateContentRule creates a content-based routing rule.
	// Target is the rule name; After is the dataplane.MatchRule.
	ChangeCreateContentRule = "rule.content.create"

	// ChangeCreateOriginRule creates an origin-based routing rule.
	// Target is the rule name; After is the dataplane.OriginRule.
	ChangeCreateOriginRule = "rule.origin.create"
)

// Change is one recorded configuration change within a transaction.
type Change struct {
	// Kind classifies the change (see the Change* constants).
	Kind string `json:"kind"`

	// Target names the changed resource.
	Target string `json:"target"`

	// Before and After are the values around the change. Before may be
	// nil for creations.
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`

	// Timestamp is when the change was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Transaction is the coordinator's record of one atomic change batch.
// It is the payload of transaction lifecycle events and history entries;
// consumers must treat it as read-only.
type Transaction struct {
	// ID is the proxy-assigned transaction identifier.
	ID string `json:"id"`

	// Description is a human-readable summary of the batch.
	Description string `json:"description,omitempty"`

	// Metadata is free-form caller-supplied context.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// StartedAt and EndedAt bound the transaction's lifetime. EndedAt is
	// zero while the transaction is active.
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	// RollbackReason explains a rollback ("work failed", "validation
	// failed", "timed out", "shutdown"). Empty for committed transactions.
	RollbackReason string `json:"rollback_reason,omitempty"`

	// Changes are the recorded changes, in call order.
	Changes []Change `json:"changes,omitempty"`
}
