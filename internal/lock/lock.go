// Package lock validates document edit locks before timeline writes.
//
// The lock service itself lives outside this core; saves only prove that
// the caller still owns an active lock on the parent document. The postgres
// validator reads the shared document_edit_lock table the lock service
// maintains.
package lock

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/djlord-it/eventline/internal/domain"
)

// TokenHeader carries the caller's lock token on write requests.
const TokenHeader = "X-Document-Lock-Token"

type FailureCode string

const (
	CodeLockRequired  FailureCode = "LOCK_REQUIRED"
	CodeLockNotFound  FailureCode = "LOCK_NOT_FOUND"
	CodeLockExpired   FailureCode = "LOCK_EXPIRED"
	CodeNotOwner      FailureCode = "LOCK_NOT_OWNER"
	CodeTokenMismatch FailureCode = "LOCK_TOKEN_MISMATCH"
)

// Failure is a lock validation rejection. Callers map it to a conflict
// response; it never indicates a transport problem.
type Failure struct {
	Code      FailureCode
	Message   string
	LockedBy  string
	ExpiresAt *time.Time
}

func (f *Failure) Error() string {
	return fmt.Sprintf("document lock: %s: %s", f.Code, f.Message)
}

// AsFailure unwraps a lock Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

const queryActiveLock = `
SELECT owner_email, token_hash, expires_at
FROM document_edit_lock
WHERE object_type = $1
  AND document_id = $2
  AND is_active = true
ORDER BY id DESC
LIMIT 1
FOR UPDATE
`

const queryExpireLock = `
UPDATE document_edit_lock
SET is_active = false, released_at = $3, release_reason = 'expired'
WHERE object_type = $1
  AND document_id = $2
  AND is_active = true
`

// Validator checks lock ownership against PostgreSQL.
type Validator struct {
	db    *sql.DB
	clock func() time.Time
}

func NewValidator(db *sql.DB) *Validator {
	return &Validator{db: db, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (v *Validator) WithClock(clock func() time.Time) *Validator {
	v.clock = clock
	return v
}

// ValidateForWrite confirms that actor holds an active, unexpired lock on
// (parentType, parentID) and that token matches the stored hash. Any
// rejection is returned as a *Failure before the caller writes anything.
func (v *Validator) ValidateForWrite(ctx context.Context, parentType domain.ParentType, parentID int64, actor, token string) error {
	actor = strings.ToLower(strings.TrimSpace(actor))
	if actor == "" {
		return &Failure{Code: CodeLockRequired, Message: "authenticated user is required for timeline save"}
	}
	if strings.TrimSpace(token) == "" {
		return &Failure{Code: CodeLockRequired, Message: "lock token header is required for timeline save"}
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lock validation: %w", err)
	}
	defer tx.Rollback()

	var ownerEmail, tokenHash string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, queryActiveLock, string(parentType), parentID).
		Scan(&ownerEmail, &tokenHash, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &Failure{Code: CodeLockNotFound, Message: "no active edit lock on document"}
	}
	if err != nil {
		return fmt.Errorf("query document lock: %w", err)
	}

	now := v.clock().UTC()
	if !expiresAt.After(now) {
		if _, err := tx.ExecContext(ctx, queryExpireLock, string(parentType), parentID, now); err != nil {
			log.Printf("lock: failed to mark expired lock inactive: %v", err)
		} else if err := tx.Commit(); err != nil {
			log.Printf("lock: failed to commit lock expiry: %v", err)
		}
		return &Failure{Code: CodeLockExpired, Message: "edit lock has expired", ExpiresAt: &expiresAt}
	}

	if strings.ToLower(strings.TrimSpace(ownerEmail)) != actor {
		return &Failure{
			Code:      CodeNotOwner,
			Message:   "edit lock is held by another user",
			LockedBy:  ownerEmail,
			ExpiresAt: &expiresAt,
		}
	}

	if HashToken(token) != tokenHash {
		return &Failure{Code: CodeTokenMismatch, Message: "lock token does not match the active lock"}
	}

	return tx.Commit()
}

// HashToken returns the hex SHA-256 of a lock token; only hashes are stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
