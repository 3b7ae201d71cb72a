package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"depositgate/internal/app/apperr"
)

func TestMemory_TakeConsumes(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	k := Key{ChatID: -100, MessageID: 7}

	if err := s.Put(ctx, k, &Prompt{TransactionID: "T1", Actor: "42"}); err != nil {
		t.Fatal(err)
	}

	p, err := s.Take(ctx, k)
	if err != nil || p.TransactionID != "T1" || p.Actor != "42" {
		t.Fatalf("got %+v, %v", p, err)
	}

	if _, err := s.Take(ctx, k); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second take, got %v", err)
	}
}

func TestMemory_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemory(WithTTL(time.Minute), withClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = s.Put(ctx, Key{ChatID: 1, MessageID: 1}, &Prompt{TransactionID: "T1"})
	_ = s.Put(ctx, Key{ChatID: 1, MessageID: 2}, &Prompt{TransactionID: "T2"})

	now = now.Add(2 * time.Minute)

	if _, err := s.Take(ctx, Key{ChatID: 1, MessageID: 1}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected expired prompt, got %v", err)
	}

	_ = s.Put(ctx, Key{ChatID: 1, MessageID: 3}, &Prompt{TransactionID: "T3"})
	if n := s.Len(); n != 1 {
		t.Fatalf("expired prompts not swept, len=%d", n)
	}
}

func TestMemory_ZeroTTLKeeps(t *testing.T) {
	now := time.Now()
	s := NewMemory(withClock(func() time.Time { return now }))
	ctx := context.Background()
	k := Key{ChatID: 1, MessageID: 1}

	_ = s.Put(ctx, k, &Prompt{TransactionID: "T1"})
	now = now.Add(24 * time.Hour)

	if _, err := s.Take(ctx, k); err != nil {
		t.Fatalf("prompt without ttl expired: %v", err)
	}
}
