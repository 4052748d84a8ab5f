package domain

import (
	"testing"
	"time"
)

func TestIdempotency_Migration_UniqueKeyAndReadback(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasTable(&Idempotency{}) {
		t.Fatalf("expected table %q to exist", Idempotency{}.TableName())
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID:        "id-1",
		UserID:    "u1",
		SessionID: "s1",
		Key:       "k1",
		MessageID: "m1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.UserID != "u1" || got.SessionID != "s1" || got.Key != "k1" || got.MessageID != "m1" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.ExpiresAt.Before(now) {
		t.Fatalf("ExpiresAt should be after CreatedAt: %v vs %v", got.ExpiresAt, now)
	}

	// (user_id, session_id, key) must be unique.
	dup := &Idempotency{
		ID: "id-2", UserID: "u1", SessionID: "s1", Key: "k1", MessageID: "m2",
		CreatedAt: now, ExpiresAt: now.Add(2 * time.Hour),
	}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE constraint violation on (user_id, session_id, key)")
	}

	// A different session with the same key is a distinct record.
	other := &Idempotency{
		ID: "id-3", UserID: "u1", SessionID: "s2", Key: "k1", MessageID: "m3",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("insert other session: %v", err)
	}
}
