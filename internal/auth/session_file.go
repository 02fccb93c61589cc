package auth

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"pasta/chat/internal/models"
)

type savedSession struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token"`
}

func saveSession(path string, identity *models.Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(savedSession{
		UID:          identity.UID,
		Email:        identity.Email,
		RefreshToken: identity.RefreshToken,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// loadSession returns nil, nil when no session was saved.
func loadSession(path string) (*savedSession, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s savedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.RefreshToken == "" {
		return nil, nil
	}
	return &s, nil
}

func removeSession(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
