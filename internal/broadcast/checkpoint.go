package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Checkpoint persists the last pixel sequence number delivered to a sink.
type Checkpoint interface {
	Load(ctx context.Context, sink string) (int64, error)
	Save(ctx context.Context, sink string, seq int64) error
}

// MemoryCheckpoint keeps checkpoints for the process lifetime only.
type MemoryCheckpoint struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func NewMemoryCheckpoint() *MemoryCheckpoint {
	return &MemoryCheckpoint{seqs: make(map[string]int64)}
}

func (c *MemoryCheckpoint) Load(_ context.Context, sink string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqs[sink], nil
}

func (c *MemoryCheckpoint) Save(_ context.Context, sink string, seq int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs[sink] = seq
	return nil
}

// PostgresCheckpoint stores checkpoints in the broadcast_checkpoints table.
type PostgresCheckpoint struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

func NewPostgresCheckpoint(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresCheckpoint {
	return &PostgresCheckpoint{pool: pool, queryTimeout: queryTimeout}
}

func (c *PostgresCheckpoint) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.queryTimeout > 0 {
		return context.WithTimeout(ctx, c.queryTimeout)
	}
	return ctx, func() {}
}

// Load returns 0 when the sink has never been checkpointed.
func (c *PostgresCheckpoint) Load(ctx context.Context, sink string) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var seq int64
	err := c.pool.QueryRow(ctx,
		`SELECT last_seq FROM broadcast_checkpoints WHERE sink = $1`, sink,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint %s: %w", sink, err)
	}
	return seq, nil
}

func (c *PostgresCheckpoint) Save(ctx context.Context, sink string, seq int64) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.pool.Exec(ctx, `
		INSERT INTO broadcast_checkpoints (sink, last_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (sink)
		DO UPDATE SET last_seq = $2, updated_at = now()
	`, sink, seq)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", sink, err)
	}
	return nil
}
