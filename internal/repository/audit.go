package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tvault-control/internal/domain"
)

// AuditRepo persists the control-plane audit trail in SQLite. Writes go
// through the single-connection write pool; reads use the read pool.
type AuditRepo struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// NewAuditRepo creates an AuditRepo over a write/read pool pair. Passing
// the same *sql.DB for both is fine for tests.
func NewAuditRepo(writeDB, readDB *sql.DB) *AuditRepo {
	return &AuditRepo{writeDB: writeDB, readDB: readDB}
}

// Insert stores one audit entry. A missing id or timestamp is filled in.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.writeDB.ExecContext(ctx,
		`INSERT INTO audit_log (id, principal_name, action, account, status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PrincipalName, e.Action, e.Account, e.Status, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns entries newest first. An empty account returns entries for
// all accounts. limit <= 0 defaults to 100.
func (r *AuditRepo) List(ctx context.Context, account string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, principal_name, action, account, status, detail, created_at
	          FROM audit_log`
	args := []interface{}{}
	if account != "" {
		query += ` WHERE account = ?`
		args = append(args, account)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.PrincipalName, &e.Action, &e.Account, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
