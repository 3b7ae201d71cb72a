package postgres

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	pg "github.com/lib/pq"

	"depositgate/internal/app/logger"
	"depositgate/internal/app/storage"
)

// InsertChannel is notified by the transactions insert trigger with the new row id
const InsertChannel = "transactions_inserted"

// storage.Feed interface implementation
var _ storage.Feed = (*Feed)(nil)

type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pg.Notification
	Ping() error
	Close() error
}

type dialFunc func(cb pg.EventCallbackType) listener

type Feed struct {
	dial         dialFunc
	transactions storage.TransactionRepository
	timeout      time.Duration
	pingInterval time.Duration
	state        feedState
}

func (f *Feed) LoggerComponent() string {
	return "Postgres.Feed"
}

type FeedOption func(*Feed)

func WithFeedTimeout(d time.Duration) FeedOption {
	return func(f *Feed) {
		f.timeout = d
	}
}

func withDialer(d dialFunc) FeedOption {
	return func(f *Feed) {
		f.dial = d
	}
}

// NewFeed creates a change feed over LISTEN/NOTIFY, reconnecting with backoff between min and max
func NewFeed(dsn string, minReconnect, maxReconnect time.Duration, transactions storage.TransactionRepository, opts ...FeedOption) *Feed {
	f := &Feed{
		dial: func(cb pg.EventCallbackType) listener {
			return pg.NewListener(dsn, minReconnect, maxReconnect, cb)
		},
		transactions: transactions,
		timeout:      10 * time.Second,
		pingInterval: time.Minute,
	}

	for _, o := range opts {
		o(f)
	}

	return f
}

// State implementation of interface storage.Feed
func (f *Feed) State() storage.FeedState {
	return f.state.get()
}

// SubscribeInserts implementation of interface storage.Feed, blocks until ctx is done
func (f *Feed) SubscribeInserts(
	ctx context.Context,
	p storage.InsertPredicate,
	cb storage.InsertCallback,
	onActive func(ctx context.Context),
) error {
	l := logger.Get(ctx, f)

	activated := make(chan struct{}, 1)
	f.state.set(storage.FeedSubscribing)

	ln := f.dial(func(ev pg.ListenerEventType, err error) {
		if err != nil {
			l.Warn().Err(err).Int("event", int(ev)).Msg("Listener event")
		}
		if f.state.apply(ev) {
			select {
			case activated <- struct{}{}:
			default:
			}
		}
	})
	defer func() {
		_ = ln.Close()
		f.state.set(storage.FeedDisconnected)
	}()

	// Listen waits for the first connection, closing the listener releases it
	listened := make(chan error, 1)
	go func() {
		listened <- ln.Listen(InsertChannel)
	}()

	select {
	case <-ctx.Done():
		l.Info().Msg("Feed stopped before the first connection")
		return nil
	case err := <-listened:
		if err != nil {
			return fmt.Errorf("listen %s: %w", InsertChannel, err)
		}
	}

	ping := time.NewTicker(f.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("Feed stopped")
			return nil
		case <-activated:
			l.Info().Msg("Feed active")
			if onActive != nil {
				onActive(ctx)
			}
		case n := <-ln.NotificationChannel():
			if n == nil {
				// delivered by pq after a reconnect, the Reconnected event triggers the backfill
				l.Debug().Msg("Notifications may have been lost")
				continue
			}
			f.deliver(ctx, n.Extra, p, cb)
		case <-ping.C:
			if err := ln.Ping(); err != nil {
				l.Warn().Err(err).Msg("Listener ping failed")
			}
		}
	}
}

func (f *Feed) deliver(ctx context.Context, id string, p storage.InsertPredicate, cb storage.InsertCallback) {
	l := logger.Get(ctx, f).With().Str("transaction_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			l.Error().Str("stack", string(debug.Stack())).Interface("panic", r).Msg("Insert delivery panicked")
		}
	}()

	rctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	tx, err := f.transactions.Get(rctx, id)
	if err != nil {
		l.Error().Err(err).Msg("Inserted transaction load failed")
		return
	}

	if p != nil && !p(tx) {
		l.Debug().Str("status", string(tx.Status)).Msg("Insert filtered")
		return
	}

	cb(ctx, tx)
}

// feedState is the reconnect state machine: Disconnected -> Subscribing -> Active
type feedState struct {
	mu    sync.RWMutex
	state storage.FeedState
}

func (s *feedState) get() storage.FeedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *feedState) set(st storage.FeedState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// apply a listener event, reports whether the subscription just became active
func (s *feedState) apply(ev pg.ListenerEventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	switch ev {
	case pg.ListenerEventConnected, pg.ListenerEventReconnected:
		s.state = storage.FeedActive
	case pg.ListenerEventDisconnected:
		s.state = storage.FeedDisconnected
	case pg.ListenerEventConnectionAttemptFailed:
		s.state = storage.FeedSubscribing
	}

	return prev != storage.FeedActive && s.state == storage.FeedActive
}
