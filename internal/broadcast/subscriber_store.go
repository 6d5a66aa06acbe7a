package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSubscriberStore implements SubscriberStore backed by the subscribers table.
type PostgresSubscriberStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresSubscriberStore creates a SubscriberStore using the given connection pool.
// queryTimeout sets the per-query context deadline; zero means no timeout.
func NewPostgresSubscriberStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresSubscriberStore {
	return &PostgresSubscriberStore{pool: pool, queryTimeout: queryTimeout}
}

func (s *PostgresSubscriberStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func (s *PostgresSubscriberStore) SaveSubscriber(ctx context.Context, sub *Subscriber) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscribers (id, name, endpoint, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sub.ID, sub.Name, sub.Endpoint, string(sub.Status), sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("save subscriber: %w", err)
	}
	return nil
}

func (s *PostgresSubscriberStore) DeleteSubscriber(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM subscribers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSubscriberNotFound, id)
	}
	return nil
}

func (s *PostgresSubscriberStore) ListSubscribers(ctx context.Context) ([]*Subscriber, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, endpoint, status, created_at
		FROM subscribers
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscriber(row pgx.Row) (*Subscriber, error) {
	var sub Subscriber
	var status string
	if err := row.Scan(&sub.ID, &sub.Name, &sub.Endpoint, &status, &sub.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	sub.Status = SubscriberStatus(status)
	return &sub, nil
}
