package gateway

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDeduper_ClaimMarkRelease(t *testing.T) {
	d := NewMemoryDeduper(0)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "evt-1")
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := d.Claim(ctx, "evt-1"); ok {
		t.Fatalf("inflight event must not be claimable")
	}

	if err := d.Release(ctx, "evt-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := d.Claim(ctx, "evt-1"); !ok {
		t.Fatalf("released event must be claimable again")
	}

	if err := d.MarkProcessed(ctx, "evt-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if ok, _ := d.Claim(ctx, "evt-1"); ok {
		t.Fatalf("processed event must never be claimable")
	}
	// Release must not unmark a processed event.
	_ = d.Release(ctx, "evt-1")
	if ok, _ := d.Claim(ctx, "evt-1"); ok {
		t.Fatalf("release after processing must be a no-op")
	}
}

func TestMemoryDeduper_RetentionPrunesProcessed(t *testing.T) {
	d := NewMemoryDeduper(time.Hour)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.clock = func() time.Time { return now }

	d.Claim(ctx, "evt-1")
	d.MarkProcessed(ctx, "evt-1")

	now = now.Add(2 * time.Hour)
	if ok, _ := d.Claim(ctx, "evt-1"); !ok {
		t.Fatalf("event past retention must be claimable again")
	}
}
