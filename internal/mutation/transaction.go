package mutation

import (
	"fmt"
	"slices"
	"sync"

	"github.com/HerbHall/jump/internal/metrics"
	"github.com/HerbHall/jump/internal/query"
	"go.uber.org/zap"
)

// Kind names the operation a transaction performs.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindBatch  Kind = "batch"
)

// State is the lifecycle position of a transaction.
// Pending -> Applying -> Committed | RolledBack.
type State string

const (
	StatePending    State = "pending"
	StateApplying   State = "applying"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// Snapshot is the collection as it was before a transaction touched it.
// Present is false when the key held no data.
type Snapshot[T any] struct {
	Key     string
	Data    []T
	Present bool
}

// Transaction is one optimistic change to a cached collection. Its
// snapshot is private; Rollback writes it back verbatim.
type Transaction[T any] struct {
	query  *query.Coordinator[T]
	logger *zap.Logger
	key    string
	kind   Kind

	mu       sync.Mutex
	state    State
	snapshot Snapshot[T]
}

// Begin cancels loads in flight for key, so they cannot overwrite the
// optimistic data, and captures the snapshot.
func Begin[T any](q *query.Coordinator[T], key string, kind Kind, logger *zap.Logger) *Transaction[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	q.Cancel(key)
	col, ok := q.Store().Read(key)
	return &Transaction[T]{
		query:  q,
		logger: logger,
		key:    key,
		kind:   kind,
		state:  StatePending,
		snapshot: Snapshot[T]{
			Key:     key,
			Data:    col.Data,
			Present: ok && col.Data != nil,
		},
	}
}

// Key returns the collection key the transaction writes to.
func (tx *Transaction[T]) Key() string { return tx.key }

// State returns the current lifecycle state.
func (tx *Transaction[T]) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Snapshot returns a copy of the pre-transaction data.
func (tx *Transaction[T]) Snapshot() Snapshot[T] {
	s := tx.snapshot
	s.Data = slices.Clone(s.Data)
	return s
}

// Apply writes the optimistic change. fn is not called when the key has
// no data.
func (tx *Transaction[T]) Apply(fn func([]T) []T) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != StatePending {
		return fmt.Errorf("apply %s on %s: transaction is %s", tx.kind, tx.key, tx.state)
	}
	tx.state = StateApplying
	if fn == nil {
		return nil
	}
	tx.query.Store().Patch(tx.key, func(data []T, ok bool) []T {
		if !ok {
			return nil
		}
		return fn(data)
	})
	return nil
}

// Commit reconciles the cache with the authoritative result and settles
// the transaction. reconcile may be nil. A key with no data is not touched
// unless reconcile handles the absent case itself.
func (tx *Transaction[T]) Commit(reconcile func(data []T, ok bool) []T) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == StateCommitted || tx.state == StateRolledBack {
		return fmt.Errorf("commit %s on %s: transaction is %s", tx.kind, tx.key, tx.state)
	}
	if reconcile != nil {
		tx.query.Store().Patch(tx.key, reconcile)
	}
	tx.state = StateCommitted
	return nil
}

// Rollback restores the snapshot exactly and settles the transaction.
func (tx *Transaction[T]) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == StateCommitted || tx.state == StateRolledBack {
		return fmt.Errorf("rollback %s on %s: transaction is %s", tx.kind, tx.key, tx.state)
	}
	if tx.state == StateApplying {
		tx.query.Store().Restore(tx.key, tx.snapshot.Data)
	}
	tx.state = StateRolledBack
	tx.logger.Debug("transaction rolled back",
		zap.String("key", tx.key),
		zap.String("kind", string(tx.kind)),
		zap.Int("restored", len(tx.snapshot.Data)),
	)
	return nil
}

// Settle invalidates the key so the cache converges on server state.
// Call it once after Commit or Rollback.
func (tx *Transaction[T]) Settle() {
	state := tx.State()
	metrics.MutationsTotal.WithLabelValues(tx.key, string(tx.kind), string(state)).Inc()
	tx.query.Invalidate(tx.key)
}
