// Package mutation applies writes to cached collections optimistically.
//
// Update and delete change the cache before the service answers and
// restore the pre-write snapshot if it refuses. Create and batch writes
// wait for the service. Every write ends by invalidating its key, and every
// result is delivered to the caller's Handler as an Outcome rather than as
// a raw error or panic.
package mutation

import (
	"context"
	"fmt"

	"github.com/HerbHall/jump/internal/api"
	"github.com/HerbHall/jump/internal/query"
	"go.uber.org/zap"
)

// Outcome is the settled result of one mutation.
type Outcome[T any] struct {
	Kind  Kind
	State State
	Key   string
	// ID is the target record for update and delete.
	ID string
	// Value is the record returned by the service for create and update.
	Value *T
	// Values are the records returned by a batch write.
	Values []T
	// Message is the service's error message, or the operation's fallback.
	Message string
	Err     error
}

// OK reports whether the service accepted the write.
func (o Outcome[T]) OK() bool { return o.State == StateCommitted }

// Handler receives every outcome. It may be nil.
type Handler[T any] func(Outcome[T])

// Coordinator runs mutations against the collections of a query.Coordinator.
type Coordinator[T any] struct {
	query  *query.Coordinator[T]
	id     func(T) string
	logger *zap.Logger
}

// New creates a Coordinator. id extracts the identity used to match records.
func New[T any](q *query.Coordinator[T], id func(T) string, logger *zap.Logger) *Coordinator[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator[T]{query: q, id: id, logger: logger}
}

// Create sends a new record and appends the service's copy on success.
// Nothing is inserted before the service assigns an identity.
func (c *Coordinator[T]) Create(ctx context.Context, key string, call func(context.Context) (T, error), fallback string, h Handler[T]) Outcome[T] {
	tx := Begin(c.query, key, KindCreate, c.logger)
	out := Outcome[T]{Kind: KindCreate, Key: key}

	v, err := invoke(ctx, call)
	if err != nil {
		_ = tx.Rollback()
		return c.finish(tx, out, err, fallback, h)
	}

	_ = tx.Commit(func(data []T, ok bool) []T {
		if !ok {
			return nil
		}
		return append(data, v)
	})
	out.Value = &v
	return c.finish(tx, out, nil, fallback, h)
}

// Update replaces record id with change(record) immediately, then with the
// service's copy on success. On failure the snapshot is restored.
func (c *Coordinator[T]) Update(ctx context.Context, key, id string, change func(T) T, call func(context.Context) (T, error), fallback string, h Handler[T]) Outcome[T] {
	tx := Begin(c.query, key, KindUpdate, c.logger)
	out := Outcome[T]{Kind: KindUpdate, Key: key, ID: id}

	_ = tx.Apply(func(data []T) []T { return c.replace(data, id, change) })

	v, err := invoke(ctx, call)
	if err != nil {
		_ = tx.Rollback()
		return c.finish(tx, out, err, fallback, h)
	}

	_ = tx.Commit(func(data []T, ok bool) []T {
		if !ok {
			return nil
		}
		return c.replace(data, id, func(T) T { return v })
	})
	out.Value = &v
	return c.finish(tx, out, nil, fallback, h)
}

// Delete removes record id immediately. On failure the snapshot is restored.
func (c *Coordinator[T]) Delete(ctx context.Context, key, id string, call func(context.Context) error, fallback string, h Handler[T]) Outcome[T] {
	tx := Begin(c.query, key, KindDelete, c.logger)
	out := Outcome[T]{Kind: KindDelete, Key: key, ID: id}

	_ = tx.Apply(func(data []T) []T { return c.remove(data, id) })

	_, err := invoke(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	})
	if err != nil {
		_ = tx.Rollback()
		return c.finish(tx, out, err, fallback, h)
	}

	_ = tx.Commit(nil)
	return c.finish(tx, out, nil, fallback, h)
}

// Batch sends a write whose effect on the collection is decided by the
// service alone. The cache is never merged; settle invalidation reloads it.
func (c *Coordinator[T]) Batch(ctx context.Context, key string, call func(context.Context) ([]T, error), fallback string, h Handler[T]) Outcome[T] {
	tx := Begin(c.query, key, KindBatch, c.logger)
	out := Outcome[T]{Kind: KindBatch, Key: key}

	vs, err := invoke(ctx, call)
	if err != nil {
		_ = tx.Rollback()
		return c.finish(tx, out, err, fallback, h)
	}

	_ = tx.Commit(nil)
	out.Values = vs
	return c.finish(tx, out, nil, fallback, h)
}

func (c *Coordinator[T]) finish(tx *Transaction[T], out Outcome[T], err error, fallback string, h Handler[T]) Outcome[T] {
	out.State = tx.State()
	if err != nil {
		out.Err = err
		out.Message = api.Message(err, fallback)
		c.logger.Warn("mutation rolled back",
			zap.String("key", out.Key),
			zap.String("kind", string(out.Kind)),
			zap.String("id", out.ID),
			zap.Error(err),
		)
	}
	c.safeCall(h, out)
	tx.Settle()
	return out
}

func (c *Coordinator[T]) replace(data []T, id string, change func(T) T) []T {
	for i := range data {
		if c.id(data[i]) == id {
			data[i] = change(data[i])
		}
	}
	return data
}

func (c *Coordinator[T]) remove(data []T, id string) []T {
	out := data[:0]
	for _, v := range data {
		if c.id(v) != id {
			out = append(out, v)
		}
	}
	return out
}

func (c *Coordinator[T]) safeCall(h Handler[T], out Outcome[T]) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("mutation handler panicked",
				zap.String("key", out.Key),
				zap.String("kind", string(out.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	h(out)
}

// invoke runs call, converting a panic into an error.
func invoke[R any](ctx context.Context, call func(context.Context) (R, error)) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mutation call panicked: %v", r)
		}
	}()
	return call(ctx)
}
