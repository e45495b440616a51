package memstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// userIDPattern is the only shape of user identifier accepted for
// filenames. Anything else is a caller bug and fails fast — it would
// otherwise be a path-injection vector.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateUserID checks that a user identifier is safe to embed in a
// filename.
func ValidateUserID(userID string) error {
	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("invalid user id %q: must match [A-Za-z0-9_-]+", userID)
	}
	return nil
}

// StorePath returns the per-user store file path under dir.
func StorePath(dir, userID string) string {
	return filepath.Join(dir, "memory-"+userID+".json")
}

// Load reads a user's store from dir. A missing file, or one that fails
// the structural shape check (wrong version tag, non-array item list), is
// treated as "no store yet" — never as an error. An invalid user id is an
// error.
func Load(dir, userID string) (*Store, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(StorePath(dir, userID))
	if err != nil {
		return NewStore(), nil
	}
	var st Store
	if err := json.Unmarshal(data, &st); err != nil {
		return NewStore(), nil
	}
	if st.Version != Version {
		return NewStore(), nil
	}
	return &st, nil
}

// Save writes a user's store atomically: temp file, then rename over the
// real path.
func Save(dir, userID string, st *Store) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	path := StorePath(dir, userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}
