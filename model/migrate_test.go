package model_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/pantry/docstore"
	"github.com/kasuganosora/pantry/model"
	"github.com/kasuganosora/pantry/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	// Account
	acc := &model.Account{Email: "test@example.com", PasswordHash: "hash", Status: model.AccountActive}
	require.NoError(t, db.Create(acc).Error)
	assert.Greater(t, acc.ID, int64(0))

	var found model.Account
	require.NoError(t, db.First(&found, acc.ID).Error)
	assert.Equal(t, "test@example.com", found.Email)

	// Duplicate email is rejected by the unique index.
	dup := &model.Account{Email: "test@example.com", PasswordHash: "hash"}
	assert.Error(t, db.Create(dup).Error)

	// Document
	doc := &model.Document{
		Collection: "inventory",
		DocID:      "apple",
		Fields:     datatypes.JSON(`{"quantity":3}`),
	}
	require.NoError(t, db.Create(doc).Error)

	var gotDoc model.Document
	require.NoError(t, db.Where("collection = ? AND doc_id = ?", "inventory", "apple").First(&gotDoc).Error)
	assert.JSONEq(t, `{"quantity":3}`, string(gotDoc.Fields))
	assert.Equal(t, int64(1), gotDoc.Version)

	// Same id in another collection is a different document.
	require.NoError(t, db.Create(&model.Document{
		Collection: "archive",
		DocID:      "apple",
		Fields:     datatypes.JSON(`{}`),
	}).Error)

	// AuditLog
	al := &model.AuditLog{
		TraceID: "trace-001", Action: "doc.increment",
		Collection: "inventory", DocID: "apple",
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(al).Error)
}

func TestDocumentKeyColumnsFitValidatedKeys(t *testing.T) {
	s, err := schema.Parse(&model.Document{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	for _, name := range []string{"Collection", "DocID"} {
		f := s.LookUpField(name)
		require.NotNil(t, f, name)
		assert.Equal(t, docstore.MaxKeyLen, f.Size, name)
	}
}

func TestDocumentRoundTripsLongestKeys(t *testing.T) {
	db := testutil.SetupTestDB(t)
	key := strings.Repeat("k", docstore.MaxKeyLen)
	require.NoError(t, db.Create(&model.Document{
		Collection: key,
		DocID:      key,
		Fields:     datatypes.JSON(`{}`),
		Rev:        "r1",
	}).Error)

	var got model.Document
	require.NoError(t, db.Where("collection = ? AND doc_id = ?", key, key).First(&got).Error)
	assert.Equal(t, "r1", got.Rev)
}
