// Package store is the Keyshare Store: atomic, per-file JSON
// persistence of Keyshare and KeyInfo records, partitioned per-key-id
// write locking, and an orphan diagnosis pass (spec.md §4.1, §9).
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/justinrush/gridlock-mpc-engine/keytypes"
)

// ErrNotFound is returned when no file exists at the computed path.
var ErrNotFound = errors.New("store: not found")

// ErrCorrupted is returned when a file exists but fails to parse as
// valid JSON even after one retry (spec.md §9: read-retry-once on
// corruption before surfacing failure).
var ErrCorrupted = errors.New("store: corrupted")

// ErrAlreadyExists is returned by SaveNewKeyshare when a keyshare file
// already exists for the given key id and share index (spec.md §4.1:
// "save_new... fails if a file for this key-id already exists on this
// node at the default share index"). On-disk state is left untouched.
var ErrAlreadyExists = errors.New("store: already exists")

// ErrWrongKind is returned by LoadKeyshareOfType when the on-disk
// Keyshare's Type does not match the type the caller expected (spec.md
// §4.1, §7: "on-disk variant does not match requested type").
var ErrWrongKind = errors.New("store: wrong kind")

// Store is the per-node keyshare/key-info persistence layer, rooted at
// a single storage directory (config.Config.StorageDir).
type Store struct {
	dir   string
	locks *keyLocks
}

// New constructs a Store rooted at dir. The directory is not created
// here; callers are expected to have called config.Config.EnsureStorageDir
// already.
func New(dir string) *Store {
	return &Store{dir: dir, locks: newKeyLocks()}
}

// LoadKeyshare reads the keyshare for keyID at the given share index
// (0 for the primary share, >=1 for extra shares held by the same
// node). This is a read-only load: no lock is taken, matching
// spec.md's "many readers, one writer" model for keyshare access.
func (s *Store) LoadKeyshare(keyID string, index int) (keytypes.Keyshare, error) {
	return readJSONRetry[keytypes.Keyshare](keysharePath(s.dir, keyID, index))
}

// LoadKeyshareOfType loads the keyshare for keyID at index exactly like
// LoadKeyshare, then checks its Type against want, returning
// ErrWrongKind if they disagree (spec.md §4.1's "load_readonly(key_id)
// → Keyshare<K> | NotFound | WrongKind"). Callers that know which
// variant they expect (cmd/node's recovery helper) load through this rather
// than LoadKeyshare so a mismatched on-disk record never silently
// drives the wrong curve's math.
func (s *Store) LoadKeyshareOfType(keyID string, index int, want keytypes.KeyType) (keytypes.Keyshare, error) {
	ks, err := s.LoadKeyshare(keyID, index)
	if err != nil {
		return keytypes.Keyshare{}, err
	}
	if ks.Type != want {
		return keytypes.Keyshare{}, errors.Wrapf(ErrWrongKind, "store: %s is %s, not %s", keyID, ks.Type, want)
	}
	return ks, nil
}

// SaveKeyshare atomically persists ks as the keyshare for keyID at
// index, serializing against concurrent writers for the same key id.
// Any existing file at this path is overwritten; this is the path
// legitimate replacement (recovery) uses. Fresh keygen must use
// SaveNewKeyshare instead.
func (s *Store) SaveKeyshare(keyID string, index int, ks keytypes.Keyshare) error {
	unlock := s.locks.lock(keyID)
	defer unlock()
	return writeJSONAtomic(keysharePath(s.dir, keyID, index), ks)
}

// SaveNewKeyshare persists ks as the keyshare for keyID at index only if
// no file already exists there, returning ErrAlreadyExists and leaving
// on-disk state untouched otherwise (spec.md §4.1's save_new, §8:
// "re-running a completed keygen for an existing key_id fails with
// AlreadyExists and does not mutate on-disk state"). Keygen paths call
// this; RunRecovery's legitimate share replacement still goes through
// SaveKeyshare.
func (s *Store) SaveNewKeyshare(keyID string, index int, ks keytypes.Keyshare) error {
	unlock := s.locks.lock(keyID)
	defer unlock()
	path := keysharePath(s.dir, keyID, index)
	if _, err := os.Stat(path); err == nil {
		return errors.Wrapf(ErrAlreadyExists, "store: keyshare %s index %d", keyID, index)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "store: stat %s", path)
	}
	return writeJSONAtomic(path, ks)
}

// DeleteKeyshare removes the keyshare file for keyID at index, if
// present. Deleting a file that does not exist is not an error.
func (s *Store) DeleteKeyshare(keyID string, index int) error {
	unlock := s.locks.lock(keyID)
	defer unlock()
	if err := os.Remove(keysharePath(s.dir, keyID, index)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "store: delete keyshare %s", keyID)
	}
	return nil
}

// LoadKeyInfo reads the KeyInfo record for keyID.
func (s *Store) LoadKeyInfo(keyID string) (keytypes.KeyInfo, error) {
	return readJSONRetry[keytypes.KeyInfo](keyInfoPath(s.dir, keyID))
}

// SaveKeyInfo atomically persists info as the KeyInfo record for keyID.
func (s *Store) SaveKeyInfo(keyID string, info keytypes.KeyInfo) error {
	unlock := s.locks.lock(keyID)
	defer unlock()
	return writeJSONAtomic(keyInfoPath(s.dir, keyID), info)
}

// readJSONRetry reads and parses a JSON file, retrying exactly once on
// a parse failure (spec.md §9's read-retry-once-on-corruption rule,
// guarding against a read racing a concurrent in-progress atomic
// rename).
func readJSONRetry[T any](path string) (T, error) {
	var zero T
	v, err := readJSONOnce[T](path)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, ErrNotFound) {
		return zero, err
	}
	v, retryErr := readJSONOnce[T](path)
	if retryErr == nil {
		return v, nil
	}
	return zero, errors.Wrap(ErrCorrupted, err.Error())
}

func readJSONOnce[T any](path string) (T, error) {
	var v T
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, ErrNotFound
		}
		return v, errors.Wrapf(err, "store: read %s", path)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errors.Wrapf(err, "store: parse %s", path)
	}
	return v, nil
}

// writeJSONAtomic marshals v and writes it to path via a temp file in
// the same directory, fsync, then rename, so a reader never observes a
// partially-written record (spec.md §9).
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "store: marshal")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "store: create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed away

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "store: write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "store: fsync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "store: close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "store: rename %s to %s", tmpName, path)
	}
	return nil
}

// Diagnosis reports a storage inconsistency found by Diagnose.
type Diagnosis struct {
	KeyID string
	Kind  DiagnosisKind
}

// DiagnosisKind enumerates the inconsistencies Diagnose can find.
type DiagnosisKind string

const (
	// OrphanedKeyInfo is a KeyInfo record with no corresponding primary
	// keyshare file for this node. Per spec.md's open question, this
	// module neither auto-purges nor auto-recovers it: it is surfaced
	// here for an operator or higher-level policy to act on.
	OrphanedKeyInfo DiagnosisKind = "orphaned_key_info"
)

// Diagnose scans the storage directory for every info--*.json record
// and reports any whose primary keys--*.json counterpart is missing.
func (s *Store) Diagnose() ([]Diagnosis, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "store: read dir %s", s.dir)
	}

	var out []Diagnosis
	for _, e := range entries {
		keyID, ok := parseKeyInfoFilename(e.Name())
		if !ok {
			continue
		}
		if _, err := os.Stat(keysharePath(s.dir, keyID, 0)); os.IsNotExist(err) {
			out = append(out, Diagnosis{KeyID: keyID, Kind: OrphanedKeyInfo})
		}
	}
	return out, nil
}

func parseKeyInfoFilename(name string) (string, bool) {
	const prefix, suffix = "info--", ".json"
	if len(name) <= len(prefix)+len(suffix) {
		return "", false
	}
	if name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
		return "", false
	}
	return name[len(prefix) : len(name)-len(suffix)], true
}
