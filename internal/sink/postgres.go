package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// PostgresSink upserts records into an articles table keyed by URL, so
// repeated runs refresh content instead of duplicating rows.
type PostgresSink struct {
	db          *sql.DB
	autoMigrate bool
}

// NewPostgresSink opens the connection and optionally creates the schema.
func NewPostgresSink(cfg config.PostgresConfig) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres config missing dsn")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	s := &PostgresSink{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := s.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Name implements Sink.
func (s *PostgresSink) Name() string { return "postgres" }

// Write implements Sink.
func (s *PostgresSink) Write(ctx context.Context, records []types.ArticleRecord) error {
	for _, rec := range records {
		if err := s.upsert(ctx, rec); err != nil {
			return fmt.Errorf("upsert article %s: %w", rec.URL, err)
		}
	}
	return nil
}

func (s *PostgresSink) upsert(ctx context.Context, rec types.ArticleRecord) error {
	query := `
        INSERT INTO articles (url, firm, title, content, published, fetched_at)
        VALUES ($1,$2,$3,$4,NULLIF($5,''),$6)
        ON CONFLICT (url) DO UPDATE SET
            firm = EXCLUDED.firm,
            title = EXCLUDED.title,
            content = EXCLUDED.content,
            published = EXCLUDED.published,
            fetched_at = EXCLUDED.fetched_at
    `
	_, err := s.db.ExecContext(ctx, query,
		rec.URL,
		rec.Firm,
		rec.Title,
		rec.Content,
		rec.Published,
		rec.FetchedAt,
	)
	return err
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	schema := `
        CREATE TABLE IF NOT EXISTS articles (
            url        TEXT PRIMARY KEY,
            firm       TEXT NOT NULL,
            title      TEXT NOT NULL DEFAULT '',
            content    TEXT NOT NULL,
            published  DATE,
            fetched_at TIMESTAMPTZ NOT NULL
        )
    `
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the underlying DB connection.
func (s *PostgresSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
