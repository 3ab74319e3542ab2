package tokencache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"

	"azbroker/pkg/logging"
)

// Entry is the serialized contents of the single cache slot.
// If present, both fields are non-empty; a malformed entry is treated as
// absent, never as an error.
type Entry struct {
	// AccessToken is the bearer token. Never logged in full.
	AccessToken string `json:"accessToken"`

	// ExpiresOn is the token's absolute expiry.
	ExpiresOn time.Time `json:"expiresOn"`
}

// ToOAuth2Token converts the entry to an oauth2.Token for callers that
// integrate with the standard token plumbing.
func (e *Entry) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: e.AccessToken,
		TokenType:   "Bearer",
		Expiry:      e.ExpiresOn,
	}
}

// Slot is the single named storage location for the cache entry: one JSON
// file, written only by the cache. Absence and malformed contents both read
// as "no cached token".
type Slot struct {
	path string
}

// NewSlot creates a slot backed by the file at path. The parent directory
// is created lazily on first write.
func NewSlot(path string) *Slot {
	return &Slot{path: path}
}

// Path returns the slot's file path.
func (s *Slot) Path() string {
	return s.path
}

// Read returns the stored entry, or nil when the slot is absent, unreadable,
// or malformed. It never returns an error: a broken slot is equivalent to an
// empty one.
func (s *Slot) Read() *Entry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		logging.Debug(cacheSubsystem, "Ignoring malformed cache slot: %v", err)
		return nil
	}
	if entry.AccessToken == "" || entry.ExpiresOn.IsZero() {
		logging.Debug(cacheSubsystem, "Ignoring incomplete cache slot")
		return nil
	}
	return &entry
}

// Write overwrites the slot with the given entry. Files carry owner-only
// permissions; the token is credential material.
func (s *Slot) Write(entry *Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache slot: %w", err)
	}
	return nil
}

// Remove deletes the slot. Removing an absent slot is not an error.
func (s *Slot) Remove() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
