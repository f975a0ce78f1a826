// Package relay is the Delivery Relay (spec.md §4.6): guarantees
// eventual delivery of UpdateCommand messages to nodes that may be
// offline when first sent, store-and-forwarding via a persisted
// NodeUpdateData row until a later heartbeat lets delivery succeed.
package relay

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("keyInfo")

// NodeUpdateData is one queued-for-delivery command (spec.md §4.6,
// original_source/backend/key-info/src/storage.rs's NodeUpdateData).
// UpdateCmd is carried as already-serialized JSON since the relay never
// needs to interpret the command, only redeliver it verbatim. ID is the
// store's row identifier, empty until the row has been Saved; it is
// what MarkRowDelivered needs to mark exactly this row and no other
// (spec.md §8 scenario 5: "no further delivery is attempted for that
// row", a row-granular guarantee this module keeps precise even though
// original_source's own update loop happens to mark a node's entire
// queue on every single successful delivery).
type NodeUpdateData struct {
	ID          string          `json:"-"`
	NodeID      string          `json:"node_id"`
	MessageType string          `json:"message_type"`
	UpdateCmd   json.RawMessage `json:"update_cmd"`
	UpdateTime  *time.Time      `json:"update_time,omitempty"`
}

// BoltStore is the bbolt-backed NodeUpdateData queue, one row per
// bucket key, keys assigned by the bucket's monotonic sequence so
// insertion order is preserved (spec.md §4.6: "ordering... preserved in
// insertion order by the underlying store").
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt database at path
// with the keyInfo bucket present.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "relay: open bolt store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "relay: create keyInfo bucket")
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save persists a new undelivered row for data's node id (spec.md
// §4.6 step 4).
func (s *BoltStore) Save(data NodeUpdateData) error {
	data.UpdateTime = nil
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), raw)
	})
}

// UndeliveredFor returns every row for nodeID whose update_time is
// still null, in insertion order (spec.md §4.6 step 6), each carrying
// the ID MarkRowDelivered needs.
func (s *BoltStore) UndeliveredFor(nodeID string) ([]NodeUpdateData, error) {
	var out []NodeUpdateData
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row NodeUpdateData
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("relay: decode row %x: %w", k, err)
			}
			if row.NodeID == nodeID && row.UpdateTime == nil {
				row.ID = hex.EncodeToString(k)
				out = append(out, row)
			}
		}
		return nil
	})
	return out, err
}

// MarkRowDelivered sets update_time := now for exactly the row
// identified by id (spec.md §8 scenario 5's per-row guarantee).
func (s *BoltStore) MarkRowDelivered(id string, now time.Time) error {
	key, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("relay: decode row id %q: %w", id, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get(key)
		if v == nil {
			return fmt.Errorf("relay: no row with id %q", id)
		}
		var row NodeUpdateData
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		row.UpdateTime = &now
		raw, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(key, raw)
	})
}

func sequenceKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
