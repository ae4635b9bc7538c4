// Package docstore defines the schemaless document store served by pantryd:
// collections of JSON documents addressed by id, with whole-document reads
// and writes plus an atomic field increment.
package docstore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get and Update when the document is absent.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAborted is returned when a conditional write kept losing races.
	ErrAborted = errors.New("docstore: too much contention, aborted")
	// ErrInvalidArgument is returned for empty or malformed collection/ids/fields.
	ErrInvalidArgument = errors.New("docstore: invalid argument")
	// ErrNotInteger is returned when Increment targets a non-integer field.
	ErrNotInteger = errors.New("docstore: field is not an integer")
)

// Fields is the body of a document.
type Fields map[string]any

// Document is one record of a collection.
type Document struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}

// Increment describes an atomic read-modify-write of one integer field.
//
// A missing field counts as 0. When the document is absent it is created
// only if Upsert is set; otherwise the call is a no-op. When Prune is set
// and the new value is below Floor the document is deleted instead of
// written. Set is merged into the document whenever it is written.
type Increment struct {
	Field  string `json:"field"`
	Delta  int64  `json:"delta"`
	Set    Fields `json:"set,omitempty"`
	Upsert bool   `json:"upsert,omitempty"`
	Prune  bool   `json:"prune,omitempty"`
	Floor  int64  `json:"floor,omitempty"`
}

// IncrementResult reports the outcome of an Increment.
// Exists is false when the document was absent (and not upserted) or was pruned.
type IncrementResult struct {
	Value   int64 `json:"value"`
	Exists  bool  `json:"exists"`
	Deleted bool  `json:"deleted"`
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	List(ctx context.Context, collection string) ([]Document, error)
	// Set writes fields; with merge the named fields are overlaid on the
	// existing document, otherwise the document is replaced.
	Set(ctx context.Context, collection, id string, fields Fields, merge bool) error
	// Update overlays fields on an existing document, ErrNotFound otherwise.
	Update(ctx context.Context, collection, id string, fields Fields) error
	// Delete removes the document; deleting an absent document is not an error.
	Delete(ctx context.Context, collection, id string) error
	Increment(ctx context.Context, collection, id string, inc Increment) (IncrementResult, error)
}

// MaxKeyLen is the longest collection name or document id, in bytes.
const MaxKeyLen = 255

// ValidateKey checks a collection name or document id.
func ValidateKey(key string) error {
	if key == "" || strings.ContainsAny(key, "/\x00") || len(key) > MaxKeyLen {
		return ErrInvalidArgument
	}
	return nil
}

// Validate checks the increment description.
func (inc Increment) Validate() error {
	if inc.Field == "" {
		return ErrInvalidArgument
	}
	if _, clash := inc.Set[inc.Field]; clash {
		return ErrInvalidArgument
	}
	return nil
}

// Merge overlays src on a copy of dst.
func Merge(dst, src Fields) Fields {
	out := make(Fields, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Apply computes the effect of inc on the current fields. It returns the
// fields to write (nil when the document must be deleted or left alone)
// and the result to report. exists tells whether the document is present.
func Apply(current Fields, exists bool, inc Increment) (Fields, IncrementResult, error) {
	if !exists && !inc.Upsert {
		return nil, IncrementResult{}, nil
	}
	var base int64
	if exists {
		v, err := IntField(current, inc.Field)
		if err != nil {
			return nil, IncrementResult{}, err
		}
		base = v
	}
	next := base + inc.Delta
	if inc.Prune && next < inc.Floor {
		return nil, IncrementResult{Value: next, Deleted: exists}, nil
	}
	out := Merge(current, inc.Set)
	out[inc.Field] = next
	return out, IncrementResult{Value: next, Exists: true}, nil
}
