// Package inventory keeps pantry items in a document store collection,
// one document per item name.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kasuganosora/pantry/docstore"
	"go.uber.org/zap"
)

// DefaultCollection is the collection items live in.
const DefaultCollection = "inventory"

const (
	fieldQuantity = "quantity"
	fieldCategory = "category"
)

var (
	// ErrRemoteUnavailable wraps store failures other than rejected data:
	// lost connections, lost sessions, and writes aborted by contention.
	ErrRemoteUnavailable = errors.New("inventory: remote store unavailable")
	ErrInvalidName       = errors.New("inventory: item name must be non-empty and contain no '/'")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be at least 1")
)

// Item is one pantry entry. Name is the document id.
type Item struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Category string `json:"category,omitempty"`
}

// Service implements the item operations on top of a docstore.Store.
type Service struct {
	store      docstore.Store
	collection string
	logger     *zap.Logger
}

// NewService creates a Service. An empty collection selects DefaultCollection.
func NewService(store docstore.Store, collection string, logger *zap.Logger) *Service {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, collection: collection, logger: logger}
}

// List returns every item. The order is whatever the store returns.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	docs, err := s.store.List(ctx, s.collection)
	if err != nil {
		return nil, remote("list", err)
	}
	items := make([]Item, 0, len(docs))
	for _, d := range docs {
		qty, err := docstore.IntField(d.Fields, fieldQuantity)
		if err != nil {
			s.logger.Warn("skipping item with malformed quantity",
				zap.String("name", d.ID), zap.Error(err))
			continue
		}
		items = append(items, Item{
			Name:     d.ID,
			Quantity: qty,
			Category: docstore.StringField(d.Fields, fieldCategory),
		})
	}
	return items, nil
}

// Add adds quantity units of name, creating the item if needed. A non-empty
// category replaces the stored one. The increment is applied atomically by
// the store, so concurrent adds never lose updates.
func (s *Service) Add(ctx context.Context, name string, quantity int64, category string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	inc := docstore.Increment{
		Field:  fieldQuantity,
		Delta:  quantity,
		Upsert: true,
	}
	if category != "" {
		inc.Set = docstore.Fields{fieldCategory: category}
	}
	if _, err := s.store.Increment(ctx, s.collection, name, inc); err != nil {
		return remote("add", err)
	}
	return nil
}

// SetQuantity overwrites the quantity of an existing item. A missing item
// is left missing. The value is stored as given, including values below 1.
func (s *Service) SetQuantity(ctx context.Context, name string, quantity int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	err := s.store.Update(ctx, s.collection, name, docstore.Fields{fieldQuantity: quantity})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return remote("set quantity", err)
	}
	return nil
}

// Remove takes one unit of name away, deleting the item when its last unit
// goes. Removing a missing item does nothing.
func (s *Service) Remove(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	_, err := s.store.Increment(ctx, s.collection, name, docstore.Increment{
		Field: fieldQuantity,
		Delta: -1,
		Prune: true,
		Floor: 1,
	})
	if err != nil {
		return remote("remove", err)
	}
	return nil
}

// Filter returns the items whose name or category contains term, ignoring
// case. An empty term matches everything.
func Filter(items []Item, term string) []Item {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), term) ||
			strings.Contains(strings.ToLower(it.Category), term) {
			out = append(out, it)
		}
	}
	return out
}

// DisplayName upper-cases the first letter of name.
func DisplayName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

func validateName(name string) error {
	if docstore.ValidateKey(name) != nil {
		return ErrInvalidName
	}
	return nil
}

// remote wraps a store error. Errors describing the stored data itself are
// passed through without ErrRemoteUnavailable; retrying cannot fix them.
func remote(op string, err error) error {
	if errors.Is(err, docstore.ErrNotInteger) ||
		errors.Is(err, docstore.ErrInvalidArgument) ||
		errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("inventory %s: %w", op, err)
	}
	return fmt.Errorf("inventory %s: %w: %w", op, ErrRemoteUnavailable, err)
}
