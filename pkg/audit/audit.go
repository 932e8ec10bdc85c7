// Package audit appends every enforcement decision to a durable trail. The
// requester DID is personal data; with redaction on, only a salted hash of
// it is stored.
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

// Record is one validation decision. RequesterDID holds the salted hash
// when written with redaction enabled.
type Record struct {
	DecisionID   string
	PolicyID     string
	RequesterDID string
	ProofRef     string
	Valid        bool
	Reason       string
	CreatedAt    time.Time
}

// Schema is the audit table; the migrator applies it at deploy time.
const Schema = `
CREATE TABLE IF NOT EXISTS decision_records (
	decision_id   TEXT PRIMARY KEY,
	policy_id     TEXT NOT NULL,
	requester_did TEXT NOT NULL,
	proof_ref     TEXT NOT NULL DEFAULT '',
	valid         BOOLEAN NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS decision_records_policy_idx ON decision_records (policy_id);
`

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if w.Redact {
		rec = redactRecord(rec, w.HashSalt)
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO decision_records
		(decision_id, policy_id, requester_did, proof_ref, valid, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.DecisionID, rec.PolicyID, rec.RequesterDID, rec.ProofRef, rec.Valid, rec.Reason, rec.CreatedAt)
	return err
}

func (w *Writer) Get(ctx context.Context, decisionID string) (Record, error) {
	var rec Record
	row := w.DB.QueryRow(ctx, `
		SELECT decision_id, policy_id, requester_did, proof_ref, valid, reason, created_at
		FROM decision_records WHERE decision_id=$1
	`, decisionID)
	if err := row.Scan(&rec.DecisionID, &rec.PolicyID, &rec.RequesterDID, &rec.ProofRef, &rec.Valid, &rec.Reason, &rec.CreatedAt); err != nil {
		return rec, err
	}
	return rec, nil
}
