package models

import (
	"encoding/json"
	"time"
)

// Collection identifies a reference-data collection mirrored from the server.
type Collection string

const (
	CollectionProducts      Collection = "products"
	CollectionCategories    Collection = "categories"
	CollectionCustomers     Collection = "customers"
	CollectionSuppliers     Collection = "suppliers"
	CollectionStoreConfigs  Collection = "store_configs"
	CollectionTicketConfigs Collection = "ticket_configs"
)

// Collections lists every reference collection in pull order.
var Collections = []Collection{
	CollectionProducts,
	CollectionCategories,
	CollectionCustomers,
	CollectionSuppliers,
	CollectionStoreConfigs,
	CollectionTicketConfigs,
}

// ValidCollection reports whether c names a known reference collection.
func ValidCollection(c Collection) bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// Operation is the kind of write a terminal performs against an entity.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationAdjust Operation = "adjust"
	OperationDelete Operation = "delete"
)

// ValidOperation reports whether op is a known mutation operation.
func ValidOperation(op Operation) bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationAdjust, OperationDelete:
		return true
	}
	return false
}

// Record is one reference entity mirrored from the server.
// Payload holds the business fields and is opaque to the store.
type Record struct {
	Collection      Collection
	ID              string
	Payload         json.RawMessage
	UpdatedAt       time.Time  // server-authoritative version marker
	LastSyncedAt    *time.Time // local time of last successful pull
	LocalModifiedAt *time.Time // local time of last unsynced local edit, nil when clean
}

// Dirty reports whether the record carries an unsynced local edit.
// A dirty record must never be overwritten by an incoming pull.
func (r Record) Dirty() bool {
	if r.LocalModifiedAt == nil {
		return false
	}
	if r.LastSyncedAt == nil {
		return true
	}
	return r.LocalModifiedAt.After(*r.LastSyncedAt)
}

// SyncMetadata is the singleton sync bookkeeping record.
// The coordinator is its only writer; everything else reads.
type SyncMetadata struct {
	LastSync       *time.Time
	CollectionSync map[Collection]time.Time
	SyncInProgress bool
}

// LastCollectionSync returns the pull watermark for a collection, or nil
// if the collection has never been pulled.
func (m SyncMetadata) LastCollectionSync(c Collection) *time.Time {
	if m.CollectionSync == nil {
		return nil
	}
	t, ok := m.CollectionSync[c]
	if !ok {
		return nil
	}
	return &t
}
