package session

import (
	"context"
	"sync"
	"time"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/logger"
)

var _ Store = (*Memory)(nil)

type (
	Memory struct {
		mu  sync.Mutex
		ttl time.Duration
		now func() time.Time
		db  MemoryDB
	}
	MemoryDB map[Key]memoryEntry
)

type memoryEntry struct {
	prompt    Prompt
	expiresAt time.Time
}

type MemoryOption func(*Memory)

// WithTTL bounds the prompt lifetime, zero keeps prompts until restart
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		m.ttl = ttl
	}
}

func withClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func (svc *Memory) LoggerComponent() string {
	return "Session.Memory"
}

func NewMemory(opts ...MemoryOption) *Memory {
	s := &Memory{
		now: time.Now,
		db:  make(MemoryDB),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Put method of session.Store implementation
func (svc *Memory) Put(ctx context.Context, k Key, p *Prompt) error {
	l := logger.Get(ctx, svc)
	l.Debug().Str("key", k.String()).Str("transaction_id", p.TransactionID).Msg("Put")

	svc.mu.Lock()
	defer svc.mu.Unlock()

	now := svc.now()
	svc.sweep(now)

	e := memoryEntry{prompt: *p}
	if svc.ttl > 0 {
		e.expiresAt = now.Add(svc.ttl)
	}
	svc.db[k] = e

	return nil
}

// Take method of session.Store implementation
func (svc *Memory) Take(ctx context.Context, k Key) (*Prompt, error) {
	l := logger.Get(ctx, svc)

	svc.mu.Lock()
	defer svc.mu.Unlock()

	e, ok := svc.db[k]
	if !ok {
		l.Debug().Str("key", k.String()).Msg("Prompt not found")
		return nil, apperr.ErrNotFound
	}
	delete(svc.db, k)

	if svc.expired(e, svc.now()) {
		l.Debug().Str("key", k.String()).Msg("Prompt expired")
		return nil, apperr.ErrNotFound
	}

	p := e.prompt
	return &p, nil
}

// Len returns the number of stored prompts
func (svc *Memory) Len() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return len(svc.db)
}

func (svc *Memory) expired(e memoryEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// sweep must be called with mu held
func (svc *Memory) sweep(now time.Time) {
	for k, e := range svc.db {
		if svc.expired(e, now) {
			delete(svc.db, k)
		}
	}
}
