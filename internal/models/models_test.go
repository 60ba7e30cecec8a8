package models

import (
	"testing"
	"time"
)

func TestValidCollection(t *testing.T) {
	for _, c := range Collections {
		if !ValidCollection(c) {
			t.Errorf("ValidCollection(%s) = false", c)
		}
	}
	if ValidCollection("receipts") {
		t.Error("unknown collection accepted")
	}
	if ValidCollection("") {
		t.Error("empty collection accepted")
	}
}

func TestValidOperation(t *testing.T) {
	for _, op := range []Operation{OperationCreate, OperationUpdate, OperationAdjust, OperationDelete} {
		if !ValidOperation(op) {
			t.Errorf("ValidOperation(%s) = false", op)
		}
	}
	if ValidOperation("upsert") {
		t.Error("unknown operation accepted")
	}
}

func TestRecordDirty(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name   string
		synced *time.Time
		local  *time.Time
		want   bool
	}{
		{"never touched", nil, nil, false},
		{"synced only", &now, nil, false},
		{"local edit, never synced", nil, &now, true},
		{"local edit after sync", &earlier, &now, true},
		{"sync after local edit", &now, &earlier, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{LastSyncedAt: tt.synced, LocalModifiedAt: tt.local}
			if got := r.Dirty(); got != tt.want {
				t.Errorf("Dirty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLastCollectionSync(t *testing.T) {
	var empty SyncMetadata
	if got := empty.LastCollectionSync(CollectionProducts); got != nil {
		t.Errorf("empty metadata watermark = %v", got)
	}

	ts := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	m := SyncMetadata{CollectionSync: map[Collection]time.Time{CollectionProducts: ts}}
	if got := m.LastCollectionSync(CollectionProducts); got == nil || !got.Equal(ts) {
		t.Errorf("watermark = %v, want %v", got, ts)
	}
	if got := m.LastCollectionSync(CollectionCustomers); got != nil {
		t.Errorf("unpulled collection watermark = %v", got)
	}
}
