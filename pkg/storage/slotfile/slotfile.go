// Package slotfile implements the fixed-size on-disk slot layout
// (storage.Backend, C1): one file, one fixed-size record per message
// id, each integrity-checked with a BLAKE3 hash. The file is not
// pre-allocated; it grows as slots are written.
package slotfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cuemby/cairnq/pkg/storage"
	"github.com/cuemby/cairnq/pkg/types"
	"lukechampine.com/blake3"
)

// Slot layout, per spec §3/§6b:
//
//	[0:32)   blake3 hash
//	[32:33)  hash_includes_contents flag (1 = hash covers contents, 0 =
//	         fixed fields only)
//	[33:34)  state (0 vacant, 1 available)
//	[34:64)  poll tag (30 random bytes, zero when never polled)
//	[64:72)  created_ts (unix seconds, big-endian)
//	[72:80)  visible_ts (unix seconds, big-endian)
//	[80:84)  poll count (big-endian)
//	[84:86)  content length (big-endian)
//	[86:86+content_len) contents
const (
	offsetHash       = 0
	hashLen          = 32
	offsetHashFlag   = 32
	offsetState      = 33
	offsetPollTag    = 34
	pollTagLen       = 30
	offsetCreatedTS  = 64
	offsetVisibleTS  = 72
	offsetPollCount  = 80
	offsetContentLen = 84
	fixedFieldsLen   = 86
	offsetContents   = fixedFieldsLen

	headerLen   int64  = 64
	headerMagic uint64 = 0x6361697271736c74 // "cairqslt"
)

// Backend is the fixed-size slot file implementation of storage.Backend.
// A single file, extended on demand by slot writes, holds a small header followed by one
// fixed-size slot per message id; slot id N lives at byte offset
// headerLen + N*slotLen.
type Backend struct {
	mu             sync.Mutex
	f              *os.File
	slotLen        int64
	maxContentsLen uint32
}

var _ storage.Backend = (*Backend)(nil)

// Open opens or creates the slot file at path, sized for slots whose
// contents never exceed maxContentsLen bytes.
func Open(path string, maxContentsLen uint32) (*Backend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("slotfile: open: %w", err)
	}
	b := &Backend{
		f:              f,
		slotLen:        int64(fixedFieldsLen) + int64(maxContentsLen),
		maxContentsLen: maxContentsLen,
	}
	if err := b.ensureHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) ensureHeader() error {
	hdr := make([]byte, headerLen)
	n, err := b.f.ReadAt(hdr, 0)
	if err != nil && n == 0 {
		binary.BigEndian.PutUint64(hdr[0:8], headerMagic)
		_, err := b.f.WriteAt(hdr, 0)
		return err
	}
	return nil
}

func (b *Backend) slotOffset(id uint64) int64 {
	return headerLen + int64(id)*b.slotLen
}

func (b *Backend) readSlotLocked(id uint64) ([]byte, error) {
	buf := make([]byte, b.slotLen)
	_, err := b.f.ReadAt(buf, b.slotOffset(id))
	if err != nil {
		return nil, fmt.Errorf("slotfile: read slot %d: %w", id, err)
	}
	return buf, nil
}

func (b *Backend) writeSlotLocked(id uint64, buf []byte) error {
	_, err := b.f.WriteAt(buf, b.slotOffset(id))
	if err != nil {
		return fmt.Errorf("slotfile: write slot %d: %w", id, err)
	}
	return nil
}

// hashSlot computes the BLAKE3 hash over the hashed region of buf:
// everything past the hash field when contents are included,
// otherwise just the fixed fields. This bounds the write amplification
// of a poll rewrite, which never needs to rehash unchanged contents.
func hashSlot(buf []byte, includeContents bool) [32]byte {
	end := fixedFieldsLen
	if includeContents {
		end = len(buf)
	}
	return blake3.Sum256(buf[hashLen:end])
}

func putFixedFields(buf []byte, state types.MessageState, pollTag types.PollTag, createdTS, visibleTS int64, pollCount uint32, contentLen uint16, hashIncludesContents bool) {
	if hashIncludesContents {
		buf[offsetHashFlag] = 1
	} else {
		buf[offsetHashFlag] = 0
	}
	buf[offsetState] = byte(state)
	var tag [pollTagLen]byte
	copy(tag[:], pollTag)
	copy(buf[offsetPollTag:offsetPollTag+pollTagLen], tag[:])
	binary.BigEndian.PutUint64(buf[offsetCreatedTS:], uint64(createdTS))
	binary.BigEndian.PutUint64(buf[offsetVisibleTS:], uint64(visibleTS))
	binary.BigEndian.PutUint32(buf[offsetPollCount:], pollCount)
	binary.BigEndian.PutUint16(buf[offsetContentLen:], contentLen)
}

func parseSlot(buf []byte) (state types.MessageState, pollTag types.PollTag, createdTS, visibleTS int64, pollCount uint32, contents []byte, hashIncludesContents bool, storedHash [32]byte) {
	copy(storedHash[:], buf[offsetHash:offsetHash+hashLen])
	hashIncludesContents = buf[offsetHashFlag] == 1
	state = types.MessageState(buf[offsetState])
	tag := make(types.PollTag, pollTagLen)
	copy(tag, buf[offsetPollTag:offsetPollTag+pollTagLen])
	pollTag = tag
	createdTS = int64(binary.BigEndian.Uint64(buf[offsetCreatedTS:]))
	visibleTS = int64(binary.BigEndian.Uint64(buf[offsetVisibleTS:]))
	pollCount = binary.BigEndian.Uint32(buf[offsetPollCount:])
	contentLen := binary.BigEndian.Uint16(buf[offsetContentLen:])
	contents = make([]byte, contentLen)
	copy(contents, buf[offsetContents:int(offsetContents)+int(contentLen)])
	return
}

// CreateMessages implements storage.Backend.
func (b *Backend) CreateMessages(ctx context.Context, msgs []storage.MessageCreation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		if uint32(len(m.Contents)) > b.maxContentsLen {
			return fmt.Errorf("slotfile: contents length %d exceeds max %d", len(m.Contents), b.maxContentsLen)
		}
		buf := make([]byte, b.slotLen)
		putFixedFields(buf, types.StateAvailable, nil, m.CreatedTS, m.VisibleTS, 0, uint16(len(m.Contents)), true)
		copy(buf[offsetContents:], m.Contents)
		h := hashSlot(buf, true)
		copy(buf[offsetHash:offsetHash+hashLen], h[:])
		if err := b.writeSlotLocked(m.ID, buf); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage implements storage.Backend.
func (b *Backend) ReadMessage(ctx context.Context, id uint64) (storage.StoredMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, err := b.readSlotLocked(id)
	if errors.Is(err, io.EOF) {
		return storage.StoredMessage{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.StoredMessage{}, err
	}
	state, pollTag, createdTS, visibleTS, pollCount, contents, hashIncludesContents, storedHash := parseSlot(buf)
	if state != types.StateAvailable {
		return storage.StoredMessage{}, storage.ErrNotFound
	}
	if got := hashSlot(buf, hashIncludesContents); got != storedHash {
		panic(fmt.Sprintf("slotfile: slot %d failed integrity check", id))
	}
	return storage.StoredMessage{
		ID:        id,
		Contents:  contents,
		CreatedTS: createdTS,
		VisibleTS: visibleTS,
		PollCount: pollCount,
		PollTag:   pollTag,
	}, nil
}

// RewriteAfterPoll implements storage.Backend. It rewrites only the
// fixed-size prefix of the slot; the contents region, already on disk
// and already hashed once at push time, is left untouched, and the
// hash is recomputed over the fixed fields only.
func (b *Backend) RewriteAfterPoll(ctx context.Context, id uint64, tag types.PollTag, visibleTS int64, pollCount uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, err := b.readSlotLocked(id)
	if err != nil {
		return err
	}
	if types.MessageState(buf[offsetState]) != types.StateAvailable {
		return storage.ErrNotFound
	}
	createdTS := int64(binary.BigEndian.Uint64(buf[offsetCreatedTS:]))
	contentLen := binary.BigEndian.Uint16(buf[offsetContentLen:])
	putFixedFields(buf, types.StateAvailable, tag, createdTS, visibleTS, pollCount, contentLen, false)
	h := hashSlot(buf, false)
	copy(buf[offsetHash:offsetHash+hashLen], h[:])
	return b.writeSlotLocked(id, buf[:offsetContents])
}

// ApplyMutations implements storage.Backend.
func (b *Backend) ApplyMutations(ctx context.Context, muts []storage.Mutation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range muts {
		buf, err := b.readSlotLocked(m.ID)
		if err != nil {
			return err
		}
		if types.MessageState(buf[offsetState]) != types.StateAvailable {
			return storage.ErrNotFound
		}
		createdTS := int64(binary.BigEndian.Uint64(buf[offsetCreatedTS:]))
		contentLen := binary.BigEndian.Uint16(buf[offsetContentLen:])
		pollCount := binary.BigEndian.Uint32(buf[offsetPollCount:])
		switch m.Kind {
		case storage.MutationUpdate:
			putFixedFields(buf, types.StateAvailable, m.NewTag, createdTS, m.VisibleTS, pollCount, contentLen, false)
		case storage.MutationDelete:
			putFixedFields(buf, types.StateVacant, nil, createdTS, 0, 0, 0, false)
		}
		h := hashSlot(buf, false)
		copy(buf[offsetHash:offsetHash+hashLen], h[:])
		if err := b.writeSlotLocked(m.ID, buf[:offsetContents]); err != nil {
			return err
		}
	}
	return nil
}

// LoadWatermark implements storage.Backend.
func (b *Backend) LoadWatermark(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hdr := make([]byte, headerLen)
	if _, err := b.f.ReadAt(hdr, 0); err != nil {
		return 0, fmt.Errorf("slotfile: read header: %w", err)
	}
	return binary.BigEndian.Uint64(hdr[8:16]), nil
}

// SaveWatermark implements storage.Backend.
func (b *Backend) SaveWatermark(ctx context.Context, committed uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], committed)
	_, err := b.f.WriteAt(buf[:], 8)
	return err
}

// Sync implements storage.Backend: a single fsync covering every
// pending write made through this Backend since the last call.
func (b *Backend) Sync(ctx context.Context) error {
	return b.f.Sync()
}

// Close implements storage.Backend.
func (b *Backend) Close() error {
	return b.f.Close()
}

// SlotLen reports the fixed on-disk size of one slot, header excluded.
// Exposed for tests and for operators sizing a data directory.
func (b *Backend) SlotLen() int64 {
	return b.slotLen
}
