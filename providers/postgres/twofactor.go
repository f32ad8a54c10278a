package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rankwatch/authcore"
)

func (s *Store) GetTwoFactor(ctx context.Context, identityID string) (*authcore.TwoFactorRecord, error) {
	query := `SELECT secret, confirmed FROM authcore_two_factor WHERE identity_id = $1`

	var rec authcore.TwoFactorRecord
	err := s.pool.QueryRow(ctx, query, identityID).Scan(&rec.Secret, &rec.Confirmed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrTwoFactorNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get two-factor: %w", err)
	}

	rec.Enabled = true
	return &rec, nil
}

// EnableTwoFactor stores a pending enrollment, replacing the previous secret
// and backup codes in one transaction.
func (s *Store) EnableTwoFactor(ctx context.Context, identityID, secret string, backupCodeHashes [][32]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin enable two-factor: %w", err)
	}
	defer tx.Rollback(ctx)

	upsert := `INSERT INTO authcore_two_factor (identity_id, secret, confirmed)
		VALUES ($1, $2, FALSE)
		ON CONFLICT (identity_id) DO UPDATE
		SET secret = EXCLUDED.secret, confirmed = FALSE, created_at = NOW()`

	if _, err := tx.Exec(ctx, upsert, identityID, secret); err != nil {
		if isForeignKeyViolation(err) {
			return authcore.ErrIdentityNotFound
		}
		return fmt.Errorf("postgres: enable two-factor: %w", err)
	}

	if err := replaceBackupCodesTx(ctx, tx, identityID, backupCodeHashes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit enable two-factor: %w", err)
	}
	return nil
}

// ConfirmTwoFactor marks the enrollment confirmed and flips the identity's
// two_factor_enabled flag in the same transaction.
func (s *Store) ConfirmTwoFactor(ctx context.Context, identityID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin confirm two-factor: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE authcore_two_factor SET confirmed = TRUE WHERE identity_id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("postgres: confirm two-factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrTwoFactorNotEnrolled
	}

	if _, err := tx.Exec(ctx, `UPDATE authcore_identities SET two_factor_enabled = TRUE WHERE id = $1`, identityID); err != nil {
		return fmt.Errorf("postgres: set two-factor flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit confirm two-factor: %w", err)
	}
	return nil
}

// DisableTwoFactor removes the enrollment, its backup codes and the identity
// flag. Disabling an identity that was never enrolled is a no-op.
func (s *Store) DisableTwoFactor(ctx context.Context, identityID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin disable two-factor: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM authcore_two_factor WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("postgres: delete two-factor: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM authcore_backup_codes WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("postgres: delete backup codes: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE authcore_identities SET two_factor_enabled = FALSE WHERE id = $1`, identityID); err != nil {
		return fmt.Errorf("postgres: clear two-factor flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit disable two-factor: %w", err)
	}
	return nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, identityID string, backupCodeHashes [][32]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replace backup codes: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := replaceBackupCodesTx(ctx, tx, identityID, backupCodeHashes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit replace backup codes: %w", err)
	}
	return nil
}

func replaceBackupCodesTx(ctx context.Context, tx pgx.Tx, identityID string, hashes [][32]byte) error {
	if _, err := tx.Exec(ctx, `DELETE FROM authcore_backup_codes WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("postgres: clear backup codes: %w", err)
	}

	insert := `INSERT INTO authcore_backup_codes (identity_id, code_hash) VALUES ($1, $2)`
	for _, h := range hashes {
		if _, err := tx.Exec(ctx, insert, identityID, h[:]); err != nil {
			if isForeignKeyViolation(err) {
				return authcore.ErrIdentityNotFound
			}
			return fmt.Errorf("postgres: insert backup code: %w", err)
		}
	}
	return nil
}

// ConsumeBackupCode burns a code with a single conditional DELETE. When two
// requests race on the same code the row can only be deleted once, so
// exactly one caller sees true.
func (s *Store) ConsumeBackupCode(ctx context.Context, identityID string, codeHash [32]byte) (bool, error) {
	query := `DELETE FROM authcore_backup_codes WHERE identity_id = $1 AND code_hash = $2`

	tag, err := s.pool.Exec(ctx, query, identityID, codeHash[:])
	if err != nil {
		return false, fmt.Errorf("postgres: consume backup code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
