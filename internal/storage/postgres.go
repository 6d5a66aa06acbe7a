package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ryanbastic/go-pixelplace/internal/pixel"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresStore creates a Store backed by pool.
// queryTimeout sets the per-query context deadline; zero means no timeout.
func NewPostgresStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		pool:         pool,
		queryTimeout: queryTimeout,
	}
}

// withTimeout derives a child context with the configured query timeout.
// If queryTimeout is zero, the parent context is returned unchanged.
func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

// Pool exposes the underlying pool for collectors and health checks.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

const pixelColumns = `seq, id, x, y, color, link, owner_id, owner_name, created_at`

func scanPixel(row pgx.Row) (*pixel.Pixel, error) {
	var p pixel.Pixel
	if err := row.Scan(&p.Seq, &p.ID, &p.X, &p.Y, &p.Color, &p.Link, &p.OwnerID, &p.OwnerName, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) InsertPixel(ctx context.Context, np pixel.NewPixel) (*pixel.Pixel, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := scanPixel(s.pool.QueryRow(ctx, `
		INSERT INTO pixels (id, x, y, color, link, owner_id, owner_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (x, y) DO NOTHING
		RETURNING `+pixelColumns,
		uuid.New(), np.Position.X, np.Position.Y, np.Color, np.Link, np.OwnerID, np.OwnerName,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPositionTaken
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "uq_pixels_position" {
			return nil, ErrPositionTaken
		}
		return nil, fmt.Errorf("insert pixel: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) PixelAt(ctx context.Context, pos pixel.Position) (*pixel.Pixel, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := scanPixel(s.pool.QueryRow(ctx,
		`SELECT `+pixelColumns+` FROM pixels WHERE x = $1 AND y = $2`,
		pos.X, pos.Y,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPixelNotFound
		}
		return nil, fmt.Errorf("get pixel: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPixels(ctx context.Context, cursor string, limit int) (*Page, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	limit = clampLimit(limit)
	after, err := afterSeq(cursor)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+pixelColumns+`
		FROM pixels
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list pixels: %w", err)
	}
	defer rows.Close()

	var pixels []pixel.Pixel
	for rows.Next() {
		p, err := scanPixel(rows)
		if err != nil {
			return nil, fmt.Errorf("list pixels scan: %w", err)
		}
		pixels = append(pixels, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pixels rows: %w", err)
	}
	return buildPage(pixels, limit)
}

func (s *PostgresStore) GetCooldown(ctx context.Context, userID string) (*pixel.CooldownRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec := pixel.CooldownRecord{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT last_placement FROM user_cooldowns WHERE user_id = $1`,
		userID,
	).Scan(&rec.LastPlacement)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCooldownNotFound
		}
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) UpsertCooldown(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_cooldowns (user_id, last_placement)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET last_placement = EXCLUDED.last_placement, updated_at = now()
	`, userID, at)
	if err != nil {
		return fmt.Errorf("upsert cooldown %s: %w", userID, err)
	}
	return nil
}
