// Package credentials keeps registered users in a YAML file.
package credentials

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/securecookie"
	"gopkg.in/yaml.v3"

	"roaddamage/internal/model"
)

// Defaults written when the credentials file does not exist yet.
const (
	DefaultCookieName = "road_damage_auth"
	DefaultExpiryDays = 30
)

// Store implements repository.CredentialRepository over a YAML file.
// Every change rewrites the whole file through a temporary file and a rename.
type Store struct {
	path string
	mu   sync.RWMutex
	cfg  model.CredentialsConfig
}

// Open loads path, creating it with a fresh cookie key when it does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.cfg.Credentials.Usernames = make(map[string]model.Credential)
		s.cfg.Cookie = model.CookieSettings{
			Name:       DefaultCookieName,
			Key:        hex.EncodeToString(securecookie.GenerateRandomKey(32)),
			ExpiryDays: DefaultExpiryDays,
		}
		if err := s.save(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &s.cfg); err != nil {
			return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
		}
	}

	if s.cfg.Credentials.Usernames == nil {
		s.cfg.Credentials.Usernames = make(map[string]model.Credential)
	}
	if s.cfg.Cookie.Name == "" {
		s.cfg.Cookie.Name = DefaultCookieName
	}
	if s.cfg.Cookie.ExpiryDays <= 0 {
		s.cfg.Cookie.ExpiryDays = DefaultExpiryDays
	}
	if s.cfg.Cookie.Key == "" {
		return nil, fmt.Errorf("credentials file %s has no cookie key", path)
	}
	return s, nil
}

// Path is the backing file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get(username string) (model.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.cfg.Credentials.Usernames[username]
	return cred, ok
}

func (s *Store) Exists(username string) bool {
	_, ok := s.Get(username)
	return ok
}

// EmailTaken reports whether any user already registered email (case-insensitive).
func (s *Store) EmailTaken(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cred := range s.cfg.Credentials.Usernames {
		if strings.EqualFold(cred.Email, email) {
			return true
		}
	}
	return false
}

// Put stores cred under username and persists the file.
// The in-memory state is left unchanged when writing fails.
func (s *Store) Put(username string, cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.cfg.Credentials.Usernames[username]
	s.cfg.Credentials.Usernames[username] = cred
	if err := s.save(); err != nil {
		if existed {
			s.cfg.Credentials.Usernames[username] = previous
		} else {
			delete(s.cfg.Credentials.Usernames, username)
		}
		return err
	}
	return nil
}

// Usernames lists registered users.
func (s *Store) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.cfg.Credentials.Usernames))
	for name := range s.cfg.Credentials.Usernames {
		names = append(names, name)
	}
	return names
}

func (s *Store) Cookie() model.CookieSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Cookie
}

// Preauthorized reports whether email is on the pre-authorized list.
func (s *Store) Preauthorized(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.cfg.Preauthorized.Emails {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

// save writes the file atomically. Callers hold the write lock (or own s exclusively).
func (s *Store) save() error {
	data, err := yaml.Marshal(&s.cfg)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary credentials file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set credentials permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}
