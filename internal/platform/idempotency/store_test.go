package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	res, err := store.Reserve(ctx, "k1", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("first reserve: %+v, %v", res, err)
	}
	res, err = store.Reserve(ctx, "k1", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("second reserve should be pending: %+v, %v", res, err)
	}
	if _, err := store.Reserve(ctx, "k1", "other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	if err := store.SaveResponse(ctx, "k1", "fp", Response{Status: 201, Body: []byte("ok")}, fixedTime, time.Hour); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	res, err = store.Reserve(ctx, "k1", "fp", fixedTime.Add(time.Minute), time.Hour)
	if err != nil || res.State != ReservationStateCompleted || res.Record.ResponseStatus != 201 || string(res.Record.ResponseBody) != "ok" {
		t.Fatalf("expected completed record, got %+v, %v", res, err)
	}

	res, err = store.Reserve(ctx, "k1", "other", fixedTime.Add(2*time.Hour), time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expired key should be claimable again: %+v, %v", res, err)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "fp", fixedTime, time.Minute); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(time.Hour), 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d, %v", removed, err)
	}
	removed, _ = store.CleanupExpired(ctx, fixedTime.Add(time.Hour), 0)
	if removed != 1 {
		t.Fatalf("expected the last expired record removed, got %d", removed)
	}
	res, _ := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour)
	if res.State != ReservationStatePending {
		t.Fatalf("unexpired record must survive cleanup")
	}
}

func TestStorableHeadersDropsHopByHop(t *testing.T) {
	got := storableHeaders(map[string][]string{
		"content-type":   {"application/json"},
		"Content-Length": {"12"},
		"X-Request-Id":   {"req-1"},
	})
	if len(got) != 1 || got["Content-Type"][0] != "application/json" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestEventDeduper(t *testing.T) {
	dedup, err := NewEventDeduper(NewMemoryStore(), time.Hour, func() time.Time { return fixedTime })
	if err != nil {
		t.Fatalf("NewEventDeduper: %v", err)
	}
	ctx := context.Background()

	claimed, err := dedup.Claim(ctx, "razorpay:evt_1")
	if err != nil || !claimed {
		t.Fatalf("first claim: %v, %v", claimed, err)
	}
	if claimed, _ := dedup.Claim(ctx, "razorpay:evt_1"); claimed {
		t.Fatalf("in-flight event must not be claimed twice")
	}
	if err := dedup.Release(ctx, "razorpay:evt_1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if claimed, _ := dedup.Claim(ctx, "razorpay:evt_1"); !claimed {
		t.Fatalf("released event should be claimable")
	}
	if err := dedup.Complete(ctx, "razorpay:evt_1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if claimed, _ := dedup.Claim(ctx, "razorpay:evt_1"); claimed {
		t.Fatalf("completed event must stay claimed")
	}
	if claimed, _ := dedup.Claim(ctx, "razorpay:evt_2"); !claimed {
		t.Fatalf("other events are independent")
	}
}
