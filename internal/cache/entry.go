package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EntryOverhead is the fixed per-entry cost added to memory estimates.
const EntryOverhead = 64

var errCorruptRecord = errors.New("cache: corrupt mirror record")

// Entry is one cached value with its freshness metadata.
type Entry struct {
	Key       string
	Data      json.RawMessage
	CreatedAt time.Time
	TTL       time.Duration
	HitCount  uint64
	Version   string

	// seq orders insertions into the store; set by entryStore.put.
	seq uint64
}

// Valid reports whether the entry is fresh at now under version.
func (e *Entry) Valid(now time.Time, version string) bool {
	return now.Sub(e.CreatedAt) < e.TTL && e.Version == version
}

func (e *Entry) size() int64 {
	return int64(len(e.Key)+len(e.Data)) + EntryOverhead
}

// record is the persisted layout of an entry.
type record struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
	Version   string          `json:"version"`
}

// encodeRecord writes the payload without HTML escaping so both tiers hold
// the same bytes.
func encodeRecord(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(record{
		Data:      e.Data,
		Timestamp: e.CreatedAt.UnixMilli(),
		TTL:       e.TTL.Milliseconds(),
		Version:   e.Version,
	})
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeRecord(key string, raw []byte) (*Entry, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	if len(rec.Data) == 0 || rec.Timestamp <= 0 || rec.TTL <= 0 || rec.Version == "" {
		return nil, fmt.Errorf("%w: missing fields", errCorruptRecord)
	}
	return &Entry{
		Key:       key,
		Data:      rec.Data,
		CreatedAt: time.UnixMilli(rec.Timestamp),
		TTL:       time.Duration(rec.TTL) * time.Millisecond,
		Version:   rec.Version,
	}, nil
}

// compactPayload validates data and returns its compact form, which is
// exactly what encoding/json writes for a RawMessage field.
func compactPayload(data []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// truncateMillis drops sub-millisecond precision so persisted timestamps
// round-trip exactly.
func truncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}

func cloneRaw(data json.RawMessage) json.RawMessage {
	if data == nil {
		return nil
	}
	cp := make(json.RawMessage, len(data))
	copy(cp, data)
	return cp
}
