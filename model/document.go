package model

import (
	"time"

	"gorm.io/datatypes"
)

// Document is one schemaless record of a collection, addressed by
// (Collection, DocID). Rev is replaced on every write with a fresh random
// token and is the compare-and-swap guard for conditional writes; a
// re-created document never matches a revision read from an earlier one.
// Version counts writes within one incarnation.
type Document struct {
	Collection string         `gorm:"primaryKey;size:255" json:"collection"`
	DocID      string         `gorm:"primaryKey;size:255;column:doc_id" json:"id"`
	Fields     datatypes.JSON `gorm:"not null" json:"fields"`
	Rev        string         `gorm:"size:36;not null" json:"rev"`
	Version    int64          `gorm:"not null;default:1" json:"version"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
