package credential

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"salesbot/internal/model"
)

// FileStore keeps the credential as a single JSON document on disk.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadCredential returns an empty credential when the file does not exist yet.
func (s *FileStore) LoadCredential(context.Context) (model.Credential, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Credential{}, nil
		}
		return model.Credential{}, err
	}
	var cred model.Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return model.Credential{}, err
	}
	return cred, nil
}

func (s *FileStore) SaveCredential(_ context.Context, cred model.Credential) error {
	b, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
