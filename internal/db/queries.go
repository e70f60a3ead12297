package db

import (
	"database/sql"
	"time"

	"github.com/hpungsan/efact/internal/errors"
)

// GetValue reads one slot. The bool is false when the slot is empty.
func GetValue(db *sql.DB, sessionID, key string) (string, bool, error) {
	var value string
	err := db.QueryRow(
		`SELECT value FROM session_values WHERE session_id = ? AND key = ?`,
		sessionID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return value, true, nil
}

// SetValue writes one slot, replacing any previous value.
func SetValue(db *sql.DB, sessionID, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO session_values (session_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET
		  value = excluded.value,
		  updated_at = excluded.updated_at
	`, sessionID, key, value, time.Now().Unix())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteValue removes one slot. Removing an empty slot is not an error.
func DeleteValue(db *sql.DB, sessionID, key string) error {
	_, err := db.Exec(
		`DELETE FROM session_values WHERE session_id = ? AND key = ?`,
		sessionID, key,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// TouchSession marks every slot of a session as used now.
func TouchSession(db *sql.DB, sessionID string) error {
	_, err := db.Exec(
		`UPDATE session_values SET updated_at = ? WHERE session_id = ?`,
		time.Now().Unix(), sessionID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteSession removes every slot of a session.
func DeleteSession(db *sql.DB, sessionID string) (int, error) {
	result, err := db.Exec(`DELETE FROM session_values WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// PurgeExpired removes slots not used for longer than olderThan.
// A non-positive duration purges nothing.
func PurgeExpired(db *sql.DB, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan).Unix()
	result, err := db.Exec(`DELETE FROM session_values WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// SessionStore is the key/value slot set of one session.
type SessionStore struct {
	db        *sql.DB
	sessionID string
}

// Scope returns the slots of sessionID.
func Scope(db *sql.DB, sessionID string) *SessionStore {
	return &SessionStore{db: db, sessionID: sessionID}
}

// Get implements credential.KV. A hit keeps the session from going stale.
func (s *SessionStore) Get(key string) (string, bool, error) {
	value, ok, err := GetValue(s.db, s.sessionID, key)
	if err != nil || !ok {
		return value, ok, err
	}
	if err := TouchSession(s.db, s.sessionID); err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set implements credential.KV.
func (s *SessionStore) Set(key, value string) error {
	return SetValue(s.db, s.sessionID, key, value)
}

// Delete implements credential.KV.
func (s *SessionStore) Delete(key string) error {
	return DeleteValue(s.db, s.sessionID, key)
}
