package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"salesbot/internal/model"
)

const credentialKey = "ml_token"

// LoadCredential returns an empty credential when none was saved yet.
func (s *Store) LoadCredential(ctx context.Context) (model.Credential, error) {
	var out model.Credential
	ok, err := s.getSetting(ctx, credentialKey, &out)
	if err != nil || !ok {
		return model.Credential{}, err
	}
	return out, nil
}

func (s *Store) SaveCredential(ctx context.Context, cred model.Credential) error {
	return s.putSetting(ctx, credentialKey, cred)
}

func (s *Store) getSetting(ctx context.Context, key string, dst any) (bool, error) {
	var valueJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT value_json FROM settings WHERE key = ?
	`, key).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(valueJSON), dst); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putSetting(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, key, string(b), time.Now().UnixMilli())
	return err
}
