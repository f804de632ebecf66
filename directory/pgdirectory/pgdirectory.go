// Package pgdirectory is the production Directory implementation, backed by Postgres via
// database/sql and github.com/lib/pq.
package pgdirectory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openhab/cloud-tunnelgw/directory"
	_ "github.com/lib/pq"
	"github.com/openhab/cloud-tunnelgw/siteapi"
)

// Directory is a Postgres-backed directory.Directory.
type Directory struct {
	db *sql.DB
}

// Open connects to Postgres using dsn (a libpq connection string or URL).
func Open(dsn string) (*Directory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgdirectory: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Directory{db: db}, nil
}

// Close releases the underlying connection pool.
func (d *Directory) Close() error { return d.db.Close() }

// Ping verifies connectivity.
func (d *Directory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Directory) SiteByUUID(ctx context.Context, uuid string) (*siteapi.Site, error) {
	const q = `
SELECT id, uuid, secret_hash, owner_id, active, created_at
FROM sites
WHERE uuid = $1`
	var s siteapi.Site
	err := d.db.QueryRowContext(ctx, q, uuid).Scan(&s.ID, &s.UUID, &s.Secret, &s.Owner, &s.Active, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgdirectory: site by uuid: %w", err)
	}
	return &s, nil
}

func (d *Directory) SiteByOwner(ctx context.Context, ownerID string) (*siteapi.Site, error) {
	const q = `
SELECT id, uuid, secret_hash, owner_id, active, created_at
FROM sites
WHERE owner_id = $1`
	var s siteapi.Site
	err := d.db.QueryRowContext(ctx, q, ownerID).Scan(&s.ID, &s.UUID, &s.Secret, &s.Owner, &s.Active, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgdirectory: site by owner: %w", err)
	}
	return &s, nil
}

func (d *Directory) UserByUsername(ctx context.Context, username string) (*siteapi.User, error) {
	const q = `
SELECT id, username, password_hash, active
FROM users
WHERE lower(username) = lower($1)`
	var u siteapi.User
	err := d.db.QueryRowContext(ctx, q, strings.TrimSpace(username)).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgdirectory: user by username: %w", err)
	}
	return &u, nil
}

func (d *Directory) UserByID(ctx context.Context, id string) (*siteapi.User, error) {
	const q = `
SELECT id, username, password_hash, active
FROM users
WHERE id = $1`
	var u siteapi.User
	err := d.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgdirectory: user by id: %w", err)
	}
	return &u, nil
}

var _ directory.Directory = (*Directory)(nil)
