package sqlstore_test

import (
	"context"
	"sync"
	"testing"

	"github.com/kasuganosora/pantry/docstore"
	"github.com/kasuganosora/pantry/docstore/sqlstore"
	"github.com/kasuganosora/pantry/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	return sqlstore.New(testutil.SetupTestDB(t), 0, zap.NewNop())
}

func quantity(t *testing.T, s *sqlstore.Store, id string) int64 {
	t.Helper()
	doc, err := s.Get(context.Background(), "inventory", id)
	require.NoError(t, err)
	q, err := docstore.IntField(doc.Fields, "quantity")
	require.NoError(t, err)
	return q
}

func TestSetGetList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "inventory", "pear", docstore.Fields{"quantity": 1}, false))
	require.NoError(t, s.Set(ctx, "inventory", "apple", docstore.Fields{"quantity": 4, "category": "fruit"}, false))
	require.NoError(t, s.Set(ctx, "other", "apple", docstore.Fields{"quantity": 9}, false))

	docs, err := s.List(ctx, "inventory")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "apple", docs[0].ID)
	assert.Equal(t, "pear", docs[1].ID)
	assert.Equal(t, "fruit", docstore.StringField(docs[0].Fields, "category"))
	assert.Equal(t, int64(4), quantity(t, s, "apple"))

	_, err = s.Get(ctx, "inventory", "plum")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	empty, err := s.List(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSetMergeAndReplace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "inventory", "milk", docstore.Fields{"quantity": 1, "category": "dairy"}, false))
	require.NoError(t, s.Set(ctx, "inventory", "milk", docstore.Fields{"quantity": 3}, true))
	doc, err := s.Get(ctx, "inventory", "milk")
	require.NoError(t, err)
	assert.Equal(t, "dairy", docstore.StringField(doc.Fields, "category"))
	assert.Equal(t, int64(3), quantity(t, s, "milk"))

	require.NoError(t, s.Set(ctx, "inventory", "milk", docstore.Fields{"quantity": 2}, false))
	doc, err = s.Get(ctx, "inventory", "milk")
	require.NoError(t, err)
	_, hasCategory := doc.Fields["category"]
	assert.False(t, hasCategory)
}

func TestUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Update(ctx, "inventory", "ghost", docstore.Fields{"quantity": 1})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = s.Get(ctx, "inventory", "ghost")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, s.Set(ctx, "inventory", "egg", docstore.Fields{"quantity": 12, "category": "dairy"}, false))
	require.NoError(t, s.Update(ctx, "inventory", "egg", docstore.Fields{"quantity": 6}))
	assert.Equal(t, int64(6), quantity(t, s, "egg"))
	doc, err := s.Get(ctx, "inventory", "egg")
	require.NoError(t, err)
	assert.Equal(t, "dairy", docstore.StringField(doc.Fields, "category"))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "inventory", "salt", docstore.Fields{"quantity": 1}, false))
	require.NoError(t, s.Delete(ctx, "inventory", "salt"))
	require.NoError(t, s.Delete(ctx, "inventory", "salt"))
	_, err := s.Get(ctx, "inventory", "salt")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestIncrement(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	add := func(n int64) docstore.Increment {
		return docstore.Increment{Field: "quantity", Delta: n, Upsert: true}
	}
	take := docstore.Increment{Field: "quantity", Delta: -1, Prune: true, Floor: 1}

	res, err := s.Increment(ctx, "inventory", "apple", add(2))
	require.NoError(t, err)
	assert.Equal(t, docstore.IncrementResult{Value: 2, Exists: true}, res)

	res, err = s.Increment(ctx, "inventory", "apple", add(3))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Value)
	assert.Equal(t, int64(5), quantity(t, s, "apple"))

	for i := 0; i < 3; i++ {
		_, err = s.Increment(ctx, "inventory", "apple", take)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), quantity(t, s, "apple"))

	_, err = s.Increment(ctx, "inventory", "apple", take)
	require.NoError(t, err)
	res, err = s.Increment(ctx, "inventory", "apple", take)
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	_, err = s.Get(ctx, "inventory", "apple")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	res, err = s.Increment(ctx, "inventory", "apple", take)
	require.NoError(t, err)
	assert.Equal(t, docstore.IncrementResult{}, res)
}

func TestIncrement_SetMergesCategory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Increment(ctx, "inventory", "rice", docstore.Increment{
		Field: "quantity", Delta: 1, Upsert: true, Set: docstore.Fields{"category": "grain"},
	})
	require.NoError(t, err)
	_, err = s.Increment(ctx, "inventory", "rice", docstore.Increment{Field: "quantity", Delta: 1, Upsert: true})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "inventory", "rice")
	require.NoError(t, err)
	assert.Equal(t, "grain", docstore.StringField(doc.Fields, "category"))
	assert.Equal(t, int64(2), quantity(t, s, "rice"))
}

func TestIncrement_NonInteger(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "inventory", "odd", docstore.Fields{"quantity": "lots"}, false))
	_, err := s.Increment(ctx, "inventory", "odd", docstore.Increment{Field: "quantity", Delta: 1})
	assert.ErrorIs(t, err, docstore.ErrNotInteger)
}

func TestInvalidKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "inventory", "a/b")
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
	assert.ErrorIs(t, s.Set(ctx, "", "x", docstore.Fields{}, false), docstore.ErrInvalidArgument)
	_, err = s.Increment(ctx, "inventory", "x", docstore.Increment{})
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
}

func TestIncrement_ConcurrentAddsAreNotLost(t *testing.T) {
	s := sqlstore.New(testutil.SetupTestDB(t), 1000, zap.NewNop())
	ctx := context.Background()

	const workers = 8
	const perWorker = 5
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.Increment(ctx, "inventory", "flour",
					docstore.Increment{Field: "quantity", Delta: 1, Upsert: true})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), quantity(t, s, "flour"))
}
