// Package sequence allocates monotonically increasing numbers from named
// counters. Invoice and claim numbers are built from these sequences.
package sequence

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

// Allocator hands out the next value of a named counter. Implementations
// must be safe for concurrent use; two calls never return the same value
// for the same name.
type Allocator interface {
	Next(ctx context.Context, name string) (int64, error)
}

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGAllocator allocates from the counters table with a single atomic
// upsert, so concurrent callers on separate connections still receive
// distinct values.
type PGAllocator struct {
	pool *pgxpool.Pool
}

func NewPGAllocator(pool *pgxpool.Pool) *PGAllocator {
	return &PGAllocator{pool: pool}
}

func (a *PGAllocator) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return a.pool
}

func (a *PGAllocator) Next(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := a.conn(ctx).QueryRow(ctx,
		`INSERT INTO counters (name, seq) VALUES ($1, 1)
		 ON CONFLICT (name) DO UPDATE SET seq = counters.seq + 1
		 RETURNING seq`, name).Scan(&seq)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindSequenceAllocation, "allocate sequence %q", name)
	}
	return seq, nil
}

// MemAllocator is an in-memory Allocator for tests.
type MemAllocator struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func NewMemAllocator() *MemAllocator {
	return &MemAllocator{seqs: make(map[string]int64)}
}

func (a *MemAllocator) Next(_ context.Context, name string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seqs[name]++
	return a.seqs[name], nil
}
