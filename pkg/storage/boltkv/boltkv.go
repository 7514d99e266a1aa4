// Package boltkv implements the keyed metadata storage layout
// (storage.Backend, C2/§3) on top of go.etcd.io/bbolt. Each message id
// is spread across five buckets (contents, poll tag, visible
// timestamp, created timestamp, poll count) instead of one fixed-size
// slot; bbolt's own transaction log and fsync-on-commit stand in for
// the slot layout's per-slot BLAKE3 hash.
package boltkv

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/cuemby/cairnq/pkg/storage"
	"github.com/cuemby/cairnq/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketData      = []byte("message_data")
	bucketPollTag   = []byte("message_poll_tag")
	bucketVisibleTS = []byte("message_visible_ts")
	bucketCreatedTS = []byte("message_created_ts")
	bucketPollCount = []byte("message_poll_count")
	bucketMeta      = []byte("meta")

	metaWatermarkKey = []byte("id_watermark")
)

// Backend is the bbolt-backed implementation of storage.Backend.
type Backend struct {
	db *bolt.DB
}

var _ storage.Backend = (*Backend)(nil)

// Open opens or creates the bbolt database file under dataDir.
func Open(dataDir string) (*Backend, error) {
	dbPath := filepath.Join(dataDir, "cairnq.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltkv: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketData, bucketPollTag, bucketVisibleTS, bucketCreatedTS, bucketPollCount, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Backend{db: db}, nil
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// CreateMessages implements storage.Backend.
func (b *Backend) CreateMessages(ctx context.Context, msgs []storage.MessageCreation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketData)
		pollTag := tx.Bucket(bucketPollTag)
		visibleTS := tx.Bucket(bucketVisibleTS)
		createdTS := tx.Bucket(bucketCreatedTS)
		pollCount := tx.Bucket(bucketPollCount)

		for _, m := range msgs {
			key := idKey(m.ID)
			if err := data.Put(key, m.Contents); err != nil {
				return err
			}
			if err := pollTag.Put(key, nil); err != nil {
				return err
			}
			if err := visibleTS.Put(key, encodeInt64(m.VisibleTS)); err != nil {
				return err
			}
			if err := createdTS.Put(key, encodeInt64(m.CreatedTS)); err != nil {
				return err
			}
			if err := pollCount.Put(key, encodeUint32(0)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadMessage implements storage.Backend.
func (b *Backend) ReadMessage(ctx context.Context, id uint64) (storage.StoredMessage, error) {
	var msg storage.StoredMessage
	key := idKey(id)
	err := b.db.View(func(tx *bolt.Tx) error {
		contents := tx.Bucket(bucketData).Get(key)
		if contents == nil {
			return storage.ErrNotFound
		}
		msg = storage.StoredMessage{
			ID:        id,
			Contents:  append([]byte(nil), contents...),
			CreatedTS: decodeInt64(tx.Bucket(bucketCreatedTS).Get(key)),
			VisibleTS: decodeInt64(tx.Bucket(bucketVisibleTS).Get(key)),
			PollCount: decodeUint32(tx.Bucket(bucketPollCount).Get(key)),
			PollTag:   types.PollTag(append([]byte(nil), tx.Bucket(bucketPollTag).Get(key)...)),
		}
		return nil
	})
	if err != nil {
		return storage.StoredMessage{}, err
	}
	return msg, nil
}

// RewriteAfterPoll implements storage.Backend: it rewrites only the
// three metadata keys a delivery touches, leaving the (larger)
// contents key untouched — the bbolt analogue of the slot layout's
// fixed-fields-only rewrite.
func (b *Backend) RewriteAfterPoll(ctx context.Context, id uint64, tag types.PollTag, visibleTS int64, pollCount uint32) error {
	key := idKey(id)
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketData).Get(key) == nil {
			return storage.ErrNotFound
		}
		if err := tx.Bucket(bucketPollTag).Put(key, tag); err != nil {
			return err
		}
		if err := tx.Bucket(bucketVisibleTS).Put(key, encodeInt64(visibleTS)); err != nil {
			return err
		}
		return tx.Bucket(bucketPollCount).Put(key, encodeUint32(pollCount))
	})
}

// ApplyMutations implements storage.Backend.
func (b *Backend) ApplyMutations(ctx context.Context, muts []storage.Mutation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketData)
		pollTag := tx.Bucket(bucketPollTag)
		visibleTS := tx.Bucket(bucketVisibleTS)
		createdTS := tx.Bucket(bucketCreatedTS)
		pollCount := tx.Bucket(bucketPollCount)

		for _, m := range muts {
			key := idKey(m.ID)
			if data.Get(key) == nil {
				return storage.ErrNotFound
			}
			switch m.Kind {
			case storage.MutationUpdate:
				if err := pollTag.Put(key, m.NewTag); err != nil {
					return err
				}
				if err := visibleTS.Put(key, encodeInt64(m.VisibleTS)); err != nil {
					return err
				}
			case storage.MutationDelete:
				if err := data.Delete(key); err != nil {
					return err
				}
				if err := pollTag.Delete(key); err != nil {
					return err
				}
				if err := visibleTS.Delete(key); err != nil {
					return err
				}
				if err := createdTS.Delete(key); err != nil {
					return err
				}
				if err := pollCount.Delete(key); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadWatermark implements storage.Backend.
func (b *Backend) LoadWatermark(ctx context.Context) (uint64, error) {
	var watermark uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaWatermarkKey)
		if v != nil {
			watermark = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return watermark, err
}

// SaveWatermark implements storage.Backend.
func (b *Backend) SaveWatermark(ctx context.Context, committed uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaWatermarkKey, encodeUint64(committed))
	})
}

// Sync implements storage.Backend. bbolt's Update transactions already
// fsync on commit, so there is nothing left to flush here; it exists
// only so the batched syncer (C3) can treat both backends identically.
func (b *Backend) Sync(ctx context.Context) error {
	return nil
}

// Close implements storage.Backend.
func (b *Backend) Close() error {
	return b.db.Close()
}

func encodeInt64(v int64) []byte { return encodeUint64(uint64(v)) }
func decodeInt64(b []byte) int64 { return int64(decodeUint64(b)) }

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func encodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func decodeUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
