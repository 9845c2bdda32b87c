// Package record defines the fundamental key-value record shared by the
// memtable, WAL, SST, and compaction layers.
package record

import "github.com/m-mizutani/goerr"

const (
	// MaxKeySize is the largest key rustedge will accept.
	MaxKeySize = 1 << 20 // 1 MiB

	// MaxValueSize is the largest value rustedge will accept.
	MaxValueSize = 100 << 20 // 100 MiB
)

// ErrInvalidInput is the umbrella kind for every input-validation
// failure below; errors.Is(err, ErrInvalidInput) matches all of them.
var ErrInvalidInput = goerr.New("invalid input")

// Sentinel errors classifying invalid input. Each wraps ErrInvalidInput
// so callers can match either the specific cause or the general kind.
var (
	ErrEmptyKey    = goerr.Wrap(ErrInvalidInput, "key must not be empty")
	ErrKeyTooLarge = goerr.Wrap(ErrInvalidInput, "key exceeds maximum size")
	ErrValTooLarge = goerr.Wrap(ErrInvalidInput, "value exceeds maximum size")
)

// Entry is one mutation: a put of Value under Key, or a tombstone when
// Tombstone is true (Value is then meaningless and always empty).
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
	Timestamp uint64
	Sequence  uint64
}

// Validate enforces the key/value size limits from the data model. Empty
// keys and oversized keys/values are rejected; the tombstone sentinel
// itself carries no value and is never subject to the value size check.
func Validate(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeySize {
		return goerr.Wrap(ErrKeyTooLarge, "validate entry").With("keyLen", len(key))
	}
	if len(value) > MaxValueSize {
		return goerr.Wrap(ErrValTooLarge, "validate entry").With("valueLen", len(value))
	}
	return nil
}

// Clone returns a deep copy of the entry so that callers cannot mutate
// state held internally by the memtable or a reader.
func (e Entry) Clone() Entry {
	out := Entry{
		Tombstone: e.Tombstone,
		Timestamp: e.Timestamp,
		Sequence:  e.Sequence,
	}
	if e.Key != nil {
		out.Key = append([]byte(nil), e.Key...)
	}
	if e.Value != nil {
		out.Value = append([]byte(nil), e.Value...)
	}
	return out
}
