// Package redisstore keeps documents in Redis. Each document is one JSON
// string key; a set per collection indexes its ids. Writes use WATCH/MULTI
// so concurrent increments never lose updates.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/kasuganosora/pantry/docstore"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultMaxRetries = 16

type Store struct {
	client     *goredis.Client
	prefix     string
	maxRetries int
	logger     *zap.Logger
}

var _ docstore.Store = (*Store)(nil)

// New creates a Store. Keys are laid out as <prefix><collection> for the id
// index and <prefix><collection>/<id> for documents.
func New(client *goredis.Client, prefix string, maxRetries int, logger *zap.Logger) *Store {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Store{client: client, prefix: prefix, maxRetries: maxRetries, logger: logger}
}

func (s *Store) indexKey(collection string) string {
	return s.prefix + collection
}

// ids never contain '/', so the document key cannot collide with an index.
func (s *Store) docKey(collection, id string) string {
	return s.prefix + collection + "/" + id
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if err := validate(collection, id); err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	fields, err := docstore.DecodeFields(raw)
	if err != nil {
		return nil, err
	}
	return &docstore.Document{ID: id, Fields: fields}, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := docstore.ValidateKey(collection); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	docs := make([]docstore.Document, 0, len(ids))
	if len(ids) == 0 {
		return docs, nil
	}
	sort.Strings(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// removed between SMEMBERS and MGET
			continue
		}
		fields, err := docstore.DecodeFields([]byte(str))
		if err != nil {
			return nil, err
		}
		docs = append(docs, docstore.Document{ID: ids[i], Fields: fields})
	}
	return docs, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields docstore.Fields, merge bool) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	return s.mutate(ctx, collection, id, func(cur docstore.Fields, exists bool) (*docstore.Fields, bool, error) {
		out := docstore.Merge(nil, fields)
		if merge && exists {
			out = docstore.Merge(cur, fields)
		}
		return &out, false, nil
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	return s.mutate(ctx, collection, id, func(cur docstore.Fields, exists bool) (*docstore.Fields, bool, error) {
		if !exists {
			return nil, false, docstore.ErrNotFound
		}
		out := docstore.Merge(cur, fields)
		return &out, false, nil
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	return s.mutate(ctx, collection, id, func(_ docstore.Fields, exists bool) (*docstore.Fields, bool, error) {
		return nil, exists, nil
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
	err := s.mutate(ctx, collection, id, func(cur docstore.Fields, exists bool) (*docstore.Fields, bool, error) {
		out, r, err := docstore.Apply(cur, exists, inc)
		if err != nil {
			return nil, false, err
		}
		res = r
		if out == nil {
			return nil, r.Deleted, nil
		}
		return &out, false, nil
	})
	if err != nil {
		return docstore.IncrementResult{}, err
	}
	return res, nil
}

// mutate reads the document under WATCH and lets decide return either the
// fields to write, a delete, or neither. The transaction is retried when
// the key changed between read and EXEC.
func (s *Store) mutate(ctx context.Context, collection, id string,
	decide func(docstore.Fields, bool) (*docstore.Fields, bool, error)) error {

	key := s.docKey(collection, id)
	index := s.indexKey(collection)

	txf := func(tx *goredis.Tx) error {
		var cur docstore.Fields
		exists := true
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
			exists = false
		case err != nil:
			return err
		default:
			if cur, err = docstore.DecodeFields(raw); err != nil {
				return err
			}
		}

		out, del, err := decide(cur, exists)
		if err != nil {
			return err
		}
		if out == nil && !del {
			return nil
		}
		var data []byte
		if out != nil {
			if data, err = json.Marshal(*out); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if out != nil {
				pipe.Set(ctx, key, data, 0)
				pipe.SAdd(ctx, index, id)
				return nil
			}
			pipe.Del(ctx, key)
			pipe.SRem(ctx, index, id)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
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

func validate(collection, id string) error {
	if err := docstore.ValidateKey(collection); err != nil {
		return err
	}
	return docstore.ValidateKey(id)
}
