package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the shared room document. The server and the sync engine
// treat it as an opaque JSON value; only the panel package reads its fields.
// Two documents are equal when their canonical encodings match.
type Document []byte

// MarshalJSON writes the raw JSON, or null for an empty document.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.IsEmpty() {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON keeps a copy of the raw value. JSON null becomes an empty
// document.
func (d *Document) UnmarshalJSON(data []byte) error {
	if d == nil {
		return fmt.Errorf("models.Document: UnmarshalJSON on nil pointer")
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = nil
		return nil
	}
	*d = append((*d)[0:0], data...)
	return nil
}

// IsEmpty reports whether the document is absent or JSON null.
func (d Document) IsEmpty() bool {
	trimmed := bytes.TrimSpace(d)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Valid reports whether the document is a single well-formed JSON value.
func (d Document) Valid() bool {
	return json.Valid(d)
}

// Clone returns an independent copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return append(Document(nil), d...)
}

// Canonical re-encodes the document with object keys sorted and
// insignificant whitespace removed.
func (d Document) Canonical() ([]byte, error) {
	if d.IsEmpty() {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(d))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return out, nil
}

// Equal compares by canonical serialization. Documents that fail to decode
// fall back to a byte comparison.
func (d Document) Equal(other Document) bool {
	a, errA := d.Canonical()
	b, errB := other.Canonical()
	if errA != nil || errB != nil {
		return bytes.Equal(bytes.TrimSpace(d), bytes.TrimSpace(other))
	}
	return bytes.Equal(a, b)
}

func (d Document) String() string {
	if d.IsEmpty() {
		return "null"
	}
	return string(d)
}

// VersionedDocument is the store's current value and the millisecond
// timestamp of the write that produced it. UpdatedAt is 0 while the store
// is empty.
type VersionedDocument struct {
	Data      Document `json:"data"`
	UpdatedAt int64    `json:"updatedAt"`
}

// IsEmpty reports whether the store has never been written.
func (v VersionedDocument) IsEmpty() bool {
	return v.Data.IsEmpty()
}
