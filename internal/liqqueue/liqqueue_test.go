package liqqueue

import (
	"testing"
	"time"

	"github.com/Divas-Sagta/goquant-liquidation/internal/position"
)

func candidate(id position.ID, marginRatio uint64) Candidate {
	return Candidate{
		Position:    position.Position{ID: id},
		MarginRatio: marginRatio,
	}
}

// S7: Enqueue positions A (mr=100) and B (mr=50); pop returns B before A.
func TestPopOrdersByMarginRatioAscending(t *testing.T) {
	q := NewQueue(time.Minute)
	q.Enqueue(candidate("A", 100))
	q.Enqueue(candidate("B", 50))

	item, ok := q.Pop()
	if !ok {
		t.Fatal("expected an item")
	}
	if item.Candidate.Position.ID != "B" {
		t.Fatalf("popped %q, want B", item.Candidate.Position.ID)
	}

	item, ok = q.Pop()
	if !ok {
		t.Fatal("expected a second item")
	}
	if item.Candidate.Position.ID != "A" {
		t.Fatalf("popped %q, want A", item.Candidate.Position.ID)
	}
}

func TestPopTieBreaksByPositionID(t *testing.T) {
	q := NewQueue(time.Minute)
	q.Enqueue(candidate("B", 100))
	q.Enqueue(candidate("A", 100))

	item, ok := q.Pop()
	if !ok || item.Candidate.Position.ID != "A" {
		t.Fatalf("got %+v, want A", item)
	}
}

// Invariant 6: every Pop()-returned item satisfies now - last_attempt >= cooldown.
func TestPopRespectsCooldown(t *testing.T) {
	q := NewQueue(5 * time.Second)
	fakeNow := time.Now()
	q.nowFn = func() time.Time { return fakeNow }

	q.Enqueue(candidate("A", 10))
	if _, ok := q.Pop(); !ok {
		t.Fatal("expected first pop to succeed")
	}

	// Re-enqueue immediately: should still be in cooldown.
	q.Enqueue(candidate("A", 10))
	if _, ok := q.Pop(); ok {
		t.Fatal("expected pop to be blocked by cooldown")
	}

	fakeNow = fakeNow.Add(6 * time.Second)
	item, ok := q.Pop()
	if !ok || item.Candidate.Position.ID != "A" {
		t.Fatalf("expected A to be poppable after cooldown, got %+v ok=%v", item, ok)
	}
}

func TestEnqueueReplacesSnapshot(t *testing.T) {
	q := NewQueue(time.Minute)
	q.Enqueue(candidate("A", 500))
	q.Enqueue(candidate("A", 10))

	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	item, ok := q.Pop()
	if !ok {
		t.Fatal("expected an item")
	}
	if item.Candidate.MarginRatio != 10 {
		t.Fatalf("margin ratio = %d, want 10 (latest snapshot)", item.Candidate.MarginRatio)
	}
}

func TestSnapshotDoesNotConsume(t *testing.T) {
	q := NewQueue(time.Minute)
	q.Enqueue(candidate("A", 10))
	q.Enqueue(candidate("B", 20))

	snap := q.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	if q.Len() != 2 {
		t.Fatalf("queue len after snapshot = %d, want 2", q.Len())
	}
}

func TestPopAllInCooldownReturnsNone(t *testing.T) {
	q := NewQueue(time.Hour)
	fakeNow := time.Now()
	q.nowFn = func() time.Time { return fakeNow }

	q.Enqueue(candidate("A", 10))
	q.Pop()
	q.Enqueue(candidate("A", 10))

	if _, ok := q.Pop(); ok {
		t.Fatal("expected no poppable item while cooling down")
	}
}
