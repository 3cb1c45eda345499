package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

const migrationsTable = "schema_migrations"

// Migrator applies the embedded SQL migrations in lexical order.
type Migrator struct {
	pool  *pgxpool.Pool
	files fs.FS
}

// NewMigrator constructs a Migrator over the embedded migrations.
func NewMigrator(pool *pgxpool.Pool) *Migrator {
	sub, _ := fs.Sub(migrationFiles, "migrations")
	return &Migrator{pool: pool, files: sub}
}

// Up applies every migration not yet recorded in schema_migrations.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	if _, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, fmt.Errorf("platform/db: ensure migrations table: %w", err)
	}
	applied, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	names, err := fs.Glob(m.files, "*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var ran []string
	for _, name := range names {
		if done[name] {
			continue
		}
		body, err := fs.ReadFile(m.files, name)
		if err != nil {
			return ran, err
		}
		err = WithTx(ctx, m.pool, func(tx pgx.Tx) error {
			for _, stmt := range splitStatements(string(body)) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.Exec(ctx, `INSERT INTO `+migrationsTable+` (name) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("platform/db: apply migration %s: %w", name, err)
		}
		ran = append(ran, name)
	}
	return ran, nil
}

// Status lists applied migrations in order.
func (m *Migrator) Status(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx, `SELECT name FROM `+migrationsTable+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("platform/db: list migrations: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func splitStatements(body string) []string {
	var out []string
	var b strings.Builder
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") || trimmed == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			out = append(out, strings.TrimSpace(b.String()))
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
