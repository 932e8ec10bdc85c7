// Package registry tracks the id -> published-datum mapping the wire format
// cannot carry: decoding a datum never recovers the policy id, so the
// enforcer keeps it here alongside the chain anchor of the output the datum
// was published at.
package registry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"spal/pkg/codec"
	"spal/pkg/models"
)

// ErrNotFound is returned when no published policy exists under an id.
var ErrNotFound = errors.New("registry: policy not found")

type registryDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Entry is one published policy: the decoded record plus its wire bytes and
// the opaque chain anchor ("txid#index") supplied by the transaction layer.
type Entry struct {
	Policy    models.Policy
	Datum     []byte
	Anchor    string
	CreatedAt time.Time
}

// Registry persists published policies in postgres with a read-through
// entry cache.
type Registry struct {
	DB       registryDB
	Cache    Cache
	CacheTTL time.Duration
}

func New(db registryDB, cache Cache) *Registry {
	return &Registry{DB: db, Cache: cache, CacheTTL: 5 * time.Minute}
}

// Schema is the table the registry expects. The migrator applies it at
// deploy time; tests apply it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS published_policies (
	id         TEXT PRIMARY KEY,
	owner_pkh  TEXT NOT NULL,
	datum      BYTEA NOT NULL,
	anchor     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS published_policies_owner_idx ON published_policies (owner_pkh);
`

// Publish encodes the policy and stores it under its id. Re-publishing an
// existing id replaces the datum and anchor.
func (r *Registry) Publish(ctx context.Context, p models.Policy, anchor string) ([]byte, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return nil, fmt.Errorf("registry: policy id required")
	}
	datum, err := codec.EncodePolicy(p)
	if err != nil {
		return nil, err
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO published_policies (id, owner_pkh, datum, anchor)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET owner_pkh=EXCLUDED.owner_pkh, datum=EXCLUDED.datum, anchor=EXCLUDED.anchor
	`, id, p.OwnerPKH.String(), datum, anchor)
	if err != nil {
		return nil, fmt.Errorf("registry: publish %s: %w", id, err)
	}
	r.warmCache(ctx, id, datum, anchor, time.Now().UTC())
	return datum, nil
}

// Get loads a published policy by id, reattaching the id the datum cannot
// carry. A warm cache serves the whole entry, anchor included; a cache hit
// and a database read must answer the same entry.
func (r *Registry) Get(ctx context.Context, id string) (Entry, error) {
	id = strings.TrimSpace(id)
	if r.Cache != nil {
		if cached, err := r.Cache.Get(ctx, cacheKey(id)); err == nil {
			if entry, ok := entryFromCached(id, cached); ok {
				return entry, nil
			}
			// Unusable cache entry: drop it and fall through to the database.
			_ = r.Cache.Del(ctx, cacheKey(id))
		}
	}
	var (
		datum     []byte
		anchor    string
		createdAt time.Time
	)
	row := r.DB.QueryRow(ctx, `SELECT datum, anchor, created_at FROM published_policies WHERE id=$1`, id)
	if err := row.Scan(&datum, &anchor, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("registry: get %s: %w", id, err)
	}
	p, err := codec.DecodePolicy(datum)
	if err != nil {
		return Entry{}, fmt.Errorf("registry: stored datum for %s: %w", id, err)
	}
	p.ID = id
	r.warmCache(ctx, id, datum, anchor, createdAt)
	return Entry{Policy: p, Datum: datum, Anchor: anchor, CreatedAt: createdAt}, nil
}

// ListByOwner returns the ids of every policy published under an owner key
// hash, oldest first.
func (r *Registry) ListByOwner(ctx context.Context, owner models.KeyHash) ([]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT id FROM published_policies WHERE owner_pkh=$1 ORDER BY created_at`, owner.String())
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("registry: list: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a published policy and its cache entry.
func (r *Registry) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	tag, err := r.DB.Exec(ctx, `DELETE FROM published_policies WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("registry: delete %s: %w", id, err)
	}
	if r.Cache != nil {
		_ = r.Cache.Del(ctx, cacheKey(id))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// cachedEntry is the cache value: the full entry, not just the datum, so a
// warm read does not lose the anchor or publish time.
type cachedEntry struct {
	Datum     string    `json:"datum"`
	Anchor    string    `json:"anchor,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func (r *Registry) warmCache(ctx context.Context, id string, datum []byte, anchor string, createdAt time.Time) {
	if r.Cache == nil {
		return
	}
	raw, err := json.Marshal(cachedEntry{
		Datum:     hex.EncodeToString(datum),
		Anchor:    anchor,
		CreatedAt: createdAt,
	})
	if err != nil {
		return
	}
	_ = r.Cache.Set(ctx, cacheKey(id), string(raw), r.CacheTTL)
}

func entryFromCached(id, cached string) (Entry, bool) {
	var ce cachedEntry
	if err := json.Unmarshal([]byte(cached), &ce); err != nil {
		return Entry{}, false
	}
	datum, err := hex.DecodeString(ce.Datum)
	if err != nil {
		return Entry{}, false
	}
	p, err := codec.DecodePolicy(datum)
	if err != nil {
		return Entry{}, false
	}
	p.ID = id
	return Entry{Policy: p, Datum: datum, Anchor: ce.Anchor, CreatedAt: ce.CreatedAt}, true
}

func cacheKey(id string) string {
	return "spal:policy:" + id
}
