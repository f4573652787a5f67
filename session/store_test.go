package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "mp")
	return store, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func testRecord() *Record {
	now := time.Now()
	return &Record{
		SessionID:   "sid-1",
		UserID:      "u-1",
		Email:       "ana@example.com",
		Provider:    "password",
		FullName:    "Ana Cruz",
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
		RefreshHash: [32]byte{1},
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	rec := testRecord()

	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Get(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got != *rec {
		t.Fatalf("round trip mismatch: %+v != %+v", got, rec)
	}

	ids, err := store.ActiveSessionIDs(ctx, rec.UserID)
	if err != nil {
		t.Fatalf("active ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != rec.SessionID {
		t.Fatalf("unexpected index: %v", ids)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetExpiredRecordIsDeleted(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	rec := testRecord()
	rec.ExpiresAt = time.Now().Add(-time.Minute).Unix()

	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Get(ctx, rec.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n, _ := rdb.Exists(ctx, "mp:sess:"+rec.SessionID).Result(); n != 0 {
		t.Fatal("expired session key should be removed")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	rec := testRecord()

	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, rec.SessionID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, rec.SessionID); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	isMember, err := rdb.SIsMember(ctx, "mp:user:"+rec.UserID, rec.SessionID).Result()
	if err != nil {
		t.Fatalf("sismember: %v", err)
	}
	if isMember {
		t.Fatal("session should be removed from user index")
	}
}

func TestRotateReplacesHash(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	rec := testRecord()

	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	next := [32]byte{2}
	updated, err := store.Rotate(ctx, rec.SessionID, rec.RefreshHash, next)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if updated.RefreshHash != next {
		t.Fatal("rotated record should carry the new hash")
	}

	got, err := store.Get(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RefreshHash != next {
		t.Fatal("stored record should carry the new hash")
	}
}

func TestRotateMismatchRevokesSession(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	rec := testRecord()

	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Rotate(ctx, rec.SessionID, [32]byte{9}, [32]byte{2}); !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected ErrRefreshHashMismatch, got %v", err)
	}
	if _, err := store.Get(ctx, rec.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session should be revoked after mismatch, got %v", err)
	}
}

func TestDeleteAllForUser(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, sid := range []string{"a", "b", "c"} {
		rec := testRecord()
		rec.SessionID = sid
		if err := store.Save(ctx, rec, time.Hour); err != nil {
			t.Fatalf("save %s: %v", sid, err)
		}
	}

	ids, err := store.DeleteAllForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 deleted ids, got %v", ids)
	}
	left, err := store.ActiveSessionIDs(ctx, "u-1")
	if err != nil {
		t.Fatalf("active ids: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected no sessions left, got %v", left)
	}
}

func TestSaveRejectsNonPositiveTTL(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()

	if err := store.Save(context.Background(), testRecord(), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
