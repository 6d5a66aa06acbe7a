package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ryanbastic/go-pixelplace/internal/pixel"
	_ "modernc.org/sqlite"
)

const defaultSQLiteDSN = "file:pixelplace.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS pixels (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		x          INTEGER NOT NULL,
		y          INTEGER NOT NULL,
		color      TEXT NOT NULL,
		link       TEXT,
		owner_id   TEXT NOT NULL,
		owner_name TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (x, y)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pixels_owner ON pixels (owner_id)`,
	`CREATE TABLE IF NOT EXISTS user_cooldowns (
		user_id        TEXT PRIMARY KEY,
		last_placement TEXT NOT NULL
	)`,
}

// SQLiteStore implements Store on an embedded SQLite database.
// Intended for single-node deployments and local development.
type SQLiteStore struct {
	db           *sql.DB
	queryTimeout time.Duration
	now          func() time.Time
}

// NewSQLiteStore opens dsn and creates the schema.
func NewSQLiteStore(ctx context.Context, dsn string, queryTimeout time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = defaultSQLiteDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; in-memory databases are also per-connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, queryTimeout: queryTimeout, now: time.Now}
	for i, ddl := range sqliteSchema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite migrate step %d: %w", i, err)
		}
	}
	return s, nil
}

func (s *SQLiteStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func scanSQLitePixel(row interface{ Scan(...any) error }) (*pixel.Pixel, error) {
	var (
		p         pixel.Pixel
		id        string
		link      sql.NullString
		ownerName sql.NullString
		createdAt string
	)
	if err := row.Scan(&p.Seq, &id, &p.X, &p.Y, &p.Color, &link, &p.OwnerID, &ownerName, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse pixel id: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if link.Valid {
		p.Link = &link.String
	}
	if ownerName.Valid {
		p.OwnerName = &ownerName.String
	}
	return &p, nil
}

func (s *SQLiteStore) InsertPixel(ctx context.Context, np pixel.NewPixel) (*pixel.Pixel, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := scanSQLitePixel(s.db.QueryRowContext(ctx, `
		INSERT INTO pixels (id, x, y, color, link, owner_id, owner_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (x, y) DO NOTHING
		RETURNING `+pixelColumns,
		uuid.NewString(), np.Position.X, np.Position.Y, np.Color, np.Link, np.OwnerID, np.OwnerName, formatTime(s.now()),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionTaken
		}
		return nil, fmt.Errorf("insert pixel: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) PixelAt(ctx context.Context, pos pixel.Position) (*pixel.Pixel, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := scanSQLitePixel(s.db.QueryRowContext(ctx,
		`SELECT `+pixelColumns+` FROM pixels WHERE x = ? AND y = ?`, pos.X, pos.Y,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPixelNotFound
		}
		return nil, fmt.Errorf("get pixel: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPixels(ctx context.Context, cursor string, limit int) (*Page, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	limit = clampLimit(limit)
	after, err := afterSeq(cursor)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pixelColumns+` FROM pixels WHERE seq > ? ORDER BY seq ASC LIMIT ?`, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pixels: %w", err)
	}
	defer rows.Close()

	var pixels []pixel.Pixel
	for rows.Next() {
		p, err := scanSQLitePixel(rows)
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

func (s *SQLiteStore) GetCooldown(ctx context.Context, userID string) (*pixel.CooldownRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var last string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_placement FROM user_cooldowns WHERE user_id = ?`, userID,
	).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCooldownNotFound
		}
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	at, err := parseTime(last)
	if err != nil {
		return nil, fmt.Errorf("parse last_placement: %w", err)
	}
	return &pixel.CooldownRecord{UserID: userID, LastPlacement: at}, nil
}

func (s *SQLiteStore) UpsertCooldown(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_cooldowns (user_id, last_placement)
		VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET last_placement = excluded.last_placement
	`, userID, formatTime(at))
	if err != nil {
		return fmt.Errorf("upsert cooldown %s: %w", userID, err)
	}
	return nil
}
