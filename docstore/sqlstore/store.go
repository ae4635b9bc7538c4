package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/pantry/docstore"
	"github.com/kasuganosora/pantry/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultMaxRetries = 16

// Store is a docstore.Store over the documents table. Every mutation is a
// compare-and-swap on Document.Rev, retried while other writers win. Rev is
// fresh on every write, so a row deleted and recreated between load and
// commit never matches the revision that was read.
type Store struct {
	db         *gorm.DB
	maxRetries int
	logger     *zap.Logger

	// beforeCommit runs between decide and commit. Tests use it to
	// interleave writers.
	beforeCommit func()
}

var _ docstore.Store = (*Store)(nil)

// New creates a Store. maxRetries <= 0 selects the default budget.
func New(db *gorm.DB, maxRetries int, logger *zap.Logger) *Store {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Store{db: db, maxRetries: maxRetries, logger: logger}
}

type mutationKind int

const (
	keep mutationKind = iota
	write
	remove
)

type mutation struct {
	kind   mutationKind
	fields docstore.Fields
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if err := validate(collection, id); err != nil {
		return nil, err
	}
	row, err := s.load(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, docstore.ErrNotFound
	}
	fields, err := docstore.DecodeFields(row.Fields)
	if err != nil {
		return nil, err
	}
	return &docstore.Document{ID: row.DocID, Fields: fields}, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := docstore.ValidateKey(collection); err != nil {
		return nil, err
	}
	var rows []model.Document
	if err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("doc_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	docs := make([]docstore.Document, 0, len(rows))
	for _, row := range rows {
		fields, err := docstore.DecodeFields(row.Fields)
		if err != nil {
			return nil, err
		}
		docs = append(docs, docstore.Document{ID: row.DocID, Fields: fields})
	}
	return docs, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields docstore.Fields, merge bool) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	return s.mutate(ctx, collection, id, func(cur docstore.Fields, exists bool) (mutation, error) {
		if merge && exists {
			return mutation{kind: write, fields: docstore.Merge(cur, fields)}, nil
		}
		return mutation{kind: write, fields: docstore.Merge(nil, fields)}, nil
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	return s.mutate(ctx, collection, id, func(cur docstore.Fields, exists bool) (mutation, error) {
		if !exists {
			return mutation{}, docstore.ErrNotFound
		}
		return mutation{kind: write, fields: docstore.Merge(cur, fields)}, nil
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	return s.mutate(ctx, collection, id, func(_ docstore.Fields, exists bool) (mutation, error) {
		if !exists {
			return mutation{kind: keep}, nil
		}
		return mutation{kind: remove}, nil
	})
}

func (s *Store) Increment(ctx context.Context, collection, id string, inc docstore.Increment) (docstore.IncrementResult, error) {
	if err := validate(collection, id); err != nil {
		return docstore.IncrementResult{}, err
	}
	if err := inc.Validate(); err != nil {
		return docstore.IncrementResult{}, err
	}
	var res docstore.IncrementResult
	err := s.mutate(ctx, collection, id, func(cur docstore.Fields, exists bool) (mutation, error) {
		out, r, err := docstore.Apply(cur, exists, inc)
		if err != nil {
			return mutation{}, err
		}
		res = r
		switch {
		case out != nil:
			return mutation{kind: write, fields: out}, nil
		case r.Deleted:
			return mutation{kind: remove}, nil
		default:
			return mutation{kind: keep}, nil
		}
	})
	if err != nil {
		return docstore.IncrementResult{}, err
	}
	return res, nil
}

// load returns the row or nil when absent.
func (s *Store) load(ctx context.Context, collection, id string) (*model.Document, error) {
	var row model.Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) mutate(ctx context.Context, collection, id string, decide func(docstore.Fields, bool) (mutation, error)) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		row, err := s.load(ctx, collection, id)
		if err != nil {
			return err
		}
		var cur docstore.Fields
		if row != nil {
			if cur, err = docstore.DecodeFields(row.Fields); err != nil {
				return err
			}
		}
		m, err := decide(cur, row != nil)
		if err != nil {
			return err
		}
		if s.beforeCommit != nil {
			s.beforeCommit()
		}
		ok, err := s.commit(ctx, collection, id, row, m)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	s.logger.Warn("docstore write aborted after retries",
		zap.String("collection", collection),
		zap.String("id", id),
		zap.Int("attempts", s.maxRetries))
	return docstore.ErrAborted
}

// commit applies m if the row still carries the revision it was read at.
// It reports false when a concurrent writer got there first.
func (s *Store) commit(ctx context.Context, collection, id string, row *model.Document, m mutation) (bool, error) {
	db := s.db.WithContext(ctx)
	switch m.kind {
	case keep:
		return true, nil

	case remove:
		if row == nil {
			return true, nil
		}
		res := db.Where("collection = ? AND doc_id = ? AND rev = ?", collection, id, row.Rev).
			Delete(&model.Document{})
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected == 1, nil

	case write:
		data, err := json.Marshal(m.fields)
		if err != nil {
			return false, err
		}
		if row == nil {
			err := db.Create(&model.Document{
				Collection: collection,
				DocID:      id,
				Fields:     datatypes.JSON(data),
				Rev:        uuid.NewString(),
				Version:    1,
			}).Error
			if err != nil && isUniqueViolation(err) {
				return false, nil
			}
			return err == nil, err
		}
		res := db.Model(&model.Document{}).
			Where("collection = ? AND doc_id = ? AND rev = ?", collection, id, row.Rev).
			Updates(map[string]interface{}{
				"fields":     datatypes.JSON(data),
				"rev":        uuid.NewString(),
				"version":    row.Version + 1,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected == 1, nil
	}
	return false, errors.New("sqlstore: unknown mutation")
}

func validate(collection, id string) error {
	if err := docstore.ValidateKey(collection); err != nil {
		return err
	}
	return docstore.ValidateKey(id)
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
