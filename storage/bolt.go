package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rubinsync/celestorm/encoding"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketObjects = []byte("objects_by_oid")
	bucketMeta    = []byte("meta")
)

var keyLastRound = []byte("last_round")

// BoltStorage is a durable TransactedStorage backed by a single bbolt file,
// one bucket per concern (objects, metadata), following the same
// bucket-per-concern layout the node package uses for its chain state.
type BoltStorage[U encoding.OID] struct {
	db *bolt.DB

	tx      *bolt.Tx
	txRound int64
}

// OpenBolt opens (creating if necessary) a bbolt-backed store at path.
func OpenBolt[U encoding.OID](path string) (*BoltStorage[U], error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open bbolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketObjects, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", string(b), err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStorage[U]{db: db}, nil
}

func (s *BoltStorage[U]) Close() error { return s.db.Close() }

func oidKey[U encoding.OID](oid U) []byte {
	parts := append([]string{oid.ClassName()}, oid.KeyParts()...)
	return []byte(strings.Join(parts, "\x00"))
}

// encodeRecord packs revision and an optional JSON payload: 8 bytes of
// little-endian revision followed by the JSON bytes, empty for a deletion.
func encodeRecord(revision encoding.Revision, payload any) ([]byte, error) {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(revision))
	if payload == nil {
		return out, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal payload: %w", err)
	}
	return append(out, raw...), nil
}

func decodeRecord(b []byte) (revision encoding.Revision, payload json.RawMessage, err error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("storage: truncated record")
	}
	revision = encoding.Revision(binary.LittleEndian.Uint64(b[:8]))
	if len(b) > 8 {
		payload = json.RawMessage(b[8:])
	}
	return revision, payload, nil
}

func (s *BoltStorage[U]) GetLastRound(ctx context.Context) (int64, error) {
	var round int64
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyLastRound)
		if v == nil {
			return nil
		}
		round = int64(binary.LittleEndian.Uint64(v))
		return nil
	})
	return round, err
}

func (s *BoltStorage[U]) GetRevisionFor(ctx context.Context, oid U) (encoding.Revision, error) {
	var revision encoding.Revision
	bucket := func(tx *bolt.Tx) *bolt.Bucket { return tx.Bucket(bucketObjects) }
	lookup := func(b *bolt.Bucket) error {
		v := b.Get(oidKey(oid))
		if v == nil {
			return nil
		}
		rev, _, err := decodeRecord(v)
		if err != nil {
			return err
		}
		revision = rev
		return nil
	}
	if s.tx != nil {
		return revision, lookup(bucket(s.tx))
	}
	err := s.db.View(func(tx *bolt.Tx) error { return lookup(bucket(tx)) })
	return revision, err
}

// RoundAccepted scans the objects bucket for any record whose revision
// equals round.
func (s *BoltStorage[U]) RoundAccepted(ctx context.Context, round int64) (bool, error) {
	var found bool
	scan := func(b *bolt.Bucket) error {
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rev, _, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if int64(rev) == round {
				found = true
				return nil
			}
		}
		return nil
	}
	if s.tx != nil {
		return found, scan(s.tx.Bucket(bucketObjects))
	}
	err := s.db.View(func(tx *bolt.Tx) error { return scan(tx.Bucket(bucketObjects)) })
	return found, err
}

func (s *BoltStorage[U]) BeginTransaction(ctx context.Context, round int64) error {
	if s.tx != nil {
		return fmt.Errorf("storage: transaction already open for round %d", s.txRound)
	}
	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	s.tx = tx
	s.txRound = round
	return nil
}

// currentRevision reports oid's revision and whether it currently has a
// record in the objects bucket.
func currentRevision(b *bolt.Bucket, key []byte) (revision encoding.Revision, exists bool, err error) {
	v := b.Get(key)
	if v == nil {
		return 0, false, nil
	}
	rev, _, err := decodeRecord(v)
	if err != nil {
		return 0, false, err
	}
	return rev, true, nil
}

func (s *BoltStorage[U]) FinalizeInstruction(ctx context.Context, instr *encoding.Instruction[U]) error {
	if s.tx == nil {
		return fmt.Errorf("storage: no open transaction")
	}
	b := s.tx.Bucket(bucketObjects)
	oid := instr.OID()
	key := oidKey(oid)

	revision, exists, err := currentRevision(b, key)
	if err != nil {
		return err
	}

	switch instr.Method() {
	case encoding.MethodCreate:
		if exists {
			return fmt.Errorf("storage: cannot create %v: object already exists at revision %d", oid, revision)
		}
		val, err := encodeRecord(encoding.Revision(s.txRound), instr.Payload())
		if err != nil {
			return err
		}
		return b.Put(key, val)
	case encoding.MethodUpdate:
		if !exists {
			return fmt.Errorf("storage: cannot update %v: object does not exist", oid)
		}
		if revision != instr.Revision() {
			return fmt.Errorf("storage: cannot update %v: expected revision %d, have %d", oid, instr.Revision(), revision)
		}
		var base map[string]any
		if current := b.Get(key); current != nil {
			if _, raw, err := decodeRecord(current); err == nil && raw != nil {
				_ = json.Unmarshal(raw, &base)
			}
		}
		patch, _ := instr.Payload().(map[string]any)
		val, err := encodeRecord(encoding.Revision(s.txRound), mergeAttrs(base, patch))
		if err != nil {
			return err
		}
		return b.Put(key, val)
	case encoding.MethodDelete:
		if !exists {
			return fmt.Errorf("storage: cannot delete %v: object does not exist", oid)
		}
		if revision != instr.Revision() {
			return fmt.Errorf("storage: cannot delete %v: expected revision %d, have %d", oid, instr.Revision(), revision)
		}
		return b.Delete(key)
	}
	return fmt.Errorf("storage: unknown method %v", instr.Method())
}

func (s *BoltStorage[U]) CommitTransaction(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("storage: no open transaction")
	}
	meta := s.tx.Bucket(bucketMeta)
	roundBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(roundBytes, uint64(s.txRound))
	if err := meta.Put(keyLastRound, roundBytes); err != nil {
		_ = s.tx.Rollback()
		s.tx = nil
		return fmt.Errorf("storage: record last round: %w", err)
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

func (s *BoltStorage[U]) RollbackTransaction(ctx context.Context, cause error) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}
