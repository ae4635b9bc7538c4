package sqlstore

import (
	"context"
	"testing"

	"github.com/kasuganosora/pantry/docstore"
	"github.com/kasuganosora/pantry/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var removeOne = docstore.Increment{Field: "quantity", Delta: -1, Prune: true, Floor: 1}

// interleaveOnce runs fn the first time a mutation reaches commit.
func interleaveOnce(s *Store, fn func()) {
	fired := false
	s.beforeCommit = func() {
		if fired {
			return
		}
		fired = true
		fn()
	}
}

func TestRemove_RecreatedRowIsNotPruned(t *testing.T) {
	s := New(testutil.SetupTestDB(t), 0, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "inventory", "milk", docstore.Fields{"quantity": 1}, false))

	// Between reading quantity 1 and committing the prune, another writer
	// deletes milk and adds it back with 5 units.
	interleaveOnce(s, func() {
		require.NoError(t, s.Delete(ctx, "inventory", "milk"))
		_, err := s.Increment(ctx, "inventory", "milk",
			docstore.Increment{Field: "quantity", Delta: 5, Upsert: true})
		require.NoError(t, err)
	})

	res, err := s.Increment(ctx, "inventory", "milk", removeOne)
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	assert.Equal(t, int64(4), res.Value)

	doc, err := s.Get(ctx, "inventory", "milk")
	require.NoError(t, err)
	q, err := docstore.IntField(doc.Fields, "quantity")
	require.NoError(t, err)
	assert.Equal(t, int64(4), q)
}

func TestUpdate_RecreatedRowIsNotOverwritten(t *testing.T) {
	s := New(testutil.SetupTestDB(t), 0, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "inventory", "eggs", docstore.Fields{"quantity": 2, "category": "dairy"}, false))

	interleaveOnce(s, func() {
		require.NoError(t, s.Delete(ctx, "inventory", "eggs"))
		require.NoError(t, s.Set(ctx, "inventory", "eggs", docstore.Fields{"quantity": 12}, false))
	})

	require.NoError(t, s.Update(ctx, "inventory", "eggs", docstore.Fields{"category": "fridge"}))

	doc, err := s.Get(ctx, "inventory", "eggs")
	require.NoError(t, err)
	q, err := docstore.IntField(doc.Fields, "quantity")
	require.NoError(t, err)
	assert.Equal(t, int64(12), q)
	assert.Equal(t, "fridge", doc.Fields["category"])
}

func TestIncrement_StaleReadRetriesAgainstRecreatedRow(t *testing.T) {
	s := New(testutil.SetupTestDB(t), 0, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "inventory", "salt", docstore.Fields{"quantity": 1}, false))

	interleaveOnce(s, func() {
		require.NoError(t, s.Delete(ctx, "inventory", "salt"))
		require.NoError(t, s.Set(ctx, "inventory", "salt", docstore.Fields{"quantity": 10}, false))
	})

	res, err := s.Increment(ctx, "inventory", "salt", docstore.Increment{Field: "quantity", Delta: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Value)
}

func TestWritesRotateRevision(t *testing.T) {
	s := New(testutil.SetupTestDB(t), 0, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "inventory", "rice", docstore.Fields{"quantity": 1}, false))
	first, err := s.load(ctx, "inventory", "rice")
	require.NoError(t, err)
	require.NotEmpty(t, first.Rev)

	require.NoError(t, s.Delete(ctx, "inventory", "rice"))
	require.NoError(t, s.Set(ctx, "inventory", "rice", docstore.Fields{"quantity": 1}, false))
	second, err := s.load(ctx, "inventory", "rice")
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
	assert.NotEqual(t, first.Rev, second.Rev)

	_, err = s.Increment(ctx, "inventory", "rice", docstore.Increment{Field: "quantity", Delta: 1})
	require.NoError(t, err)
	third, err := s.load(ctx, "inventory", "rice")
	require.NoError(t, err)
	assert.NotEqual(t, second.Rev, third.Rev)
	assert.Equal(t, second.Version+1, third.Version)
}
