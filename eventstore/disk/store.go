// Package disk provides a Store backed by a single append-only segment
// file. Records are length-prefixed, checksummed JSON; every append is
// fsynced before it is acknowledged, and a torn tail left by a crash is
// truncated away on open. The file only ever grows; retention is a
// deployment concern.
package disk

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streamhaus/eventlog"
)

var _ eventlog.Store = (*Store)(nil)

// recordHeaderSize is the per-record prefix: 4-byte big-endian payload
// length followed by 4-byte CRC-32 (IEEE) of the payload.
const recordHeaderSize = 8

type storedEvent struct {
	EventID     uuid.UUID       `json:"event_id"`
	Sequence    uint64          `json:"sequence"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

type recordRef struct {
	offset      int64
	length      int
	aggregateID string
}

// Store is a disk-backed Store over one segment file.
type Store struct {
	mu        sync.Mutex
	file      *os.File
	size      int64
	closed    bool
	latestSeq uint64

	// index maps seq-1 to the record's position; byAggr keeps per-aggregate
	// sequence lists for ReadForAggregate.
	index  []recordRef
	byAggr map[string][]uint64
}

// Open opens or creates the segment file at path, recovering the index by
// scanning existing records. A partial record at the tail (crash during
// append) is truncated; everything before it stays readable.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("disk: create segment dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk: open segment: %w", err)
	}

	s := &Store{
		file:   file,
		byAggr: make(map[string][]uint64),
	}
	if err := s.recover(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) recover() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("disk: stat segment: %w", err)
	}
	fileSize := info.Size()

	var offset int64
	header := make([]byte, recordHeaderSize)
	for offset < fileSize {
		if fileSize-offset < recordHeaderSize {
			break
		}
		if _, err := s.file.ReadAt(header, offset); err != nil {
			return fmt.Errorf("disk: read record header at %d: %w", offset, err)
		}
		length := int64(binary.BigEndian.Uint32(header[0:4]))
		sum := binary.BigEndian.Uint32(header[4:8])

		if fileSize-offset-recordHeaderSize < length {
			break
		}
		data := make([]byte, length)
		if _, err := s.file.ReadAt(data, offset+recordHeaderSize); err != nil {
			return fmt.Errorf("disk: read record at %d: %w", offset, err)
		}
		if crc32.ChecksumIEEE(data) != sum {
			break
		}

		var rec storedEvent
		if err := json.Unmarshal(data, &rec); err != nil {
			break
		}
		if rec.Sequence != s.latestSeq+1 {
			return fmt.Errorf("disk: sequence gap in segment: have %d, record %d", s.latestSeq, rec.Sequence)
		}

		s.latestSeq = rec.Sequence
		s.index = append(s.index, recordRef{
			offset:      offset,
			length:      int(length),
			aggregateID: rec.AggregateID,
		})
		s.byAggr[rec.AggregateID] = append(s.byAggr[rec.AggregateID], rec.Sequence)
		offset += recordHeaderSize + length
	}

	// Drop a torn or corrupt tail so the next append starts clean.
	if offset < fileSize {
		if err := s.file.Truncate(offset); err != nil {
			return fmt.Errorf("disk: truncate torn tail: %w", err)
		}
	}
	s.size = offset
	return nil
}

// Append encodes and writes all envelopes, then fsyncs once. If the write
// or sync fails the file is truncated back to its previous size, so a
// failed append is never visible, in this process or after restart.
func (s *Store) Append(ctx context.Context, envelopes ...*eventlog.Envelope) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, eventlog.ErrClosed
	}

	var (
		buf  []byte
		refs []recordRef
		seq  = s.latestSeq
		off  = s.size
	)
	for _, env := range envelopes {
		seq++
		rec := storedEvent{
			EventID:     env.EventID,
			Sequence:    seq,
			EventType:   env.Type,
			AggregateID: env.AggregateID,
			Payload:     env.Payload,
			Metadata:    env.Metadata,
			OccurredAt:  env.OccurredAt,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, eventlog.WrapStoreUnavailable(fmt.Errorf("disk: encode record %d: %w", seq, err))
		}

		header := make([]byte, recordHeaderSize)
		binary.BigEndian.PutUint32(header[0:4], uint32(len(data)))
		binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(data))
		buf = append(buf, header...)
		buf = append(buf, data...)

		refs = append(refs, recordRef{
			offset:      off,
			length:      len(data),
			aggregateID: env.AggregateID,
		})
		off += int64(recordHeaderSize + len(data))
	}

	if _, err := s.file.WriteAt(buf, s.size); err != nil {
		s.file.Truncate(s.size)
		return 0, eventlog.WrapStoreUnavailable(fmt.Errorf("disk: write records: %w", err))
	}
	if err := s.file.Sync(); err != nil {
		s.file.Truncate(s.size)
		return 0, eventlog.WrapStoreUnavailable(fmt.Errorf("disk: sync segment: %w", err))
	}

	// Publish only after the fsync succeeded.
	for i, env := range envelopes {
		env.Sequence = s.latestSeq + uint64(i) + 1
		s.index = append(s.index, refs[i])
		s.byAggr[env.AggregateID] = append(s.byAggr[env.AggregateID], env.Sequence)
	}
	s.latestSeq = seq
	s.size = off
	return s.latestSeq, nil
}

func (s *Store) ReadFrom(ctx context.Context, from uint64, limit int) ([]*eventlog.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, eventlog.ErrClosed
	}

	if from < 1 {
		from = 1
	}
	if from > s.latestSeq {
		return nil, nil
	}

	refs := s.index[from-1:]
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}

	out := make([]*eventlog.Envelope, 0, len(refs))
	for _, ref := range refs {
		env, err := s.readRecord(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *Store) ReadForAggregate(ctx context.Context, aggregateID string) (*eventlog.Iterator[*eventlog.Envelope], error) {
	s.mu.Lock()
	seqs := make([]uint64, len(s.byAggr[aggregateID]))
	copy(seqs, s.byAggr[aggregateID])
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, eventlog.ErrClosed
	}

	idx := 0
	return eventlog.NewIterator(func(ctx context.Context) (*eventlog.Envelope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idx >= len(seqs) {
			return nil, io.EOF
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil, eventlog.ErrClosed
		}
		env, err := s.readRecord(s.index[seqs[idx]-1])
		if err != nil {
			return nil, err
		}
		idx++
		return env, nil
	}), nil
}

// readRecord is called with the lock held.
func (s *Store) readRecord(ref recordRef) (*eventlog.Envelope, error) {
	data := make([]byte, ref.length)
	if _, err := s.file.ReadAt(data, ref.offset+recordHeaderSize); err != nil {
		return nil, eventlog.WrapStoreUnavailable(fmt.Errorf("disk: read record at %d: %w", ref.offset, err))
	}

	var rec storedEvent
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eventlog.WrapStoreUnavailable(fmt.Errorf("disk: decode record at %d: %w", ref.offset, err))
	}

	return &eventlog.Envelope{
		EventID:     rec.EventID,
		Sequence:    rec.Sequence,
		Type:        rec.EventType,
		AggregateID: rec.AggregateID,
		Payload:     rec.Payload,
		Metadata:    rec.Metadata,
		OccurredAt:  rec.OccurredAt,
	}, nil
}

func (s *Store) LatestSequence(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, eventlog.ErrClosed
	}
	return s.latestSeq, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
