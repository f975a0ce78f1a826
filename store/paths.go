package store

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// keysharePath reproduces the original node's naming convention
// (config/gridlock.rs get_key_storage_path): keys--<key_id>.json for
// the first share held for a key, keys--<key_id>--<n>.json for any
// extra share n>=1 held by the same node.
func keysharePath(dir, keyID string, index int) string {
	if index > 0 {
		return filepath.Join(dir, fmt.Sprintf("keys--%s--%s.json", keyID, strconv.Itoa(index)))
	}
	return filepath.Join(dir, fmt.Sprintf("keys--%s.json", keyID))
}

// keyInfoPath reproduces get_key_info_storage_path: info--<key_id>.json.
func keyInfoPath(dir, keyID string) string {
	return filepath.Join(dir, fmt.Sprintf("info--%s.json", keyID))
}
