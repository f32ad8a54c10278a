package postgres

import (
	"context"
	"fmt"

	"github.com/rankwatch/authcore"
)

// AppendActivityLog persists one activity entry. Plug the store into an
// ActivityLogSink to route audit events here.
func (s *Store) AppendActivityLog(ctx context.Context, entry authcore.ActivityEntry) error {
	query := `INSERT INTO authcore_activity_log
			(identity_id, tenant_id, session_id, event_type, ip, success, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		entry.IdentityID, entry.TenantID, entry.SessionID, entry.Type,
		entry.IP, entry.Success, entry.Reason, entry.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: append activity log: %w", err)
	}
	return nil
}

// ActivityLog returns an identity's most recent entries, newest first.
// limit values outside 1..500 are clamped.
func (s *Store) ActivityLog(ctx context.Context, identityID string, limit int) ([]authcore.ActivityEntry, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT identity_id, tenant_id, session_id, event_type, ip, success, reason, at
		FROM authcore_activity_log
		WHERE identity_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query activity log: %w", err)
	}
	defer rows.Close()

	var entries []authcore.ActivityEntry
	for rows.Next() {
		var e authcore.ActivityEntry
		if err := rows.Scan(&e.IdentityID, &e.TenantID, &e.SessionID, &e.Type, &e.IP, &e.Success, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan activity entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate activity log: %w", err)
	}
	return entries, nil
}
