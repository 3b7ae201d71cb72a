package backfill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"depositgate/internal/app/logger"
	"depositgate/internal/app/model"
	"depositgate/internal/app/storage"
)

// Enqueuer accepts transactions for notification
type Enqueuer interface {
	Enqueue(tx *model.Transaction)
}

// Service re-scans pending deposits and feeds them to the dispatcher
type Service struct {
	mu           sync.Mutex
	logger       logger.Logger
	transactions storage.TransactionRepository
	queue        Enqueuer
	timeout      time.Duration

	lastRun   time.Time
	lastCount int
	stopCh    chan struct{}
}

func (s *Service) LoggerComponent() string {
	return "Backfill.Service"
}

func New(transactions storage.TransactionRepository, queue Enqueuer, timeout time.Duration) *Service {
	s := &Service{
		transactions: transactions,
		queue:        queue,
		timeout:      timeout,
		stopCh:       make(chan struct{}),
	}
	s.logger = logger.Global().Component(s)
	return s
}

// Run enqueues every pending deposit, oldest first, and returns how many
func (s *Service) Run(ctx context.Context) (int, error) {
	l := logger.Get(ctx, s)

	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pending, err := s.transactions.FetchPending(fctx, model.TransactionTypeDeposit)
	if err != nil {
		l.Error().Err(err).Msg("Fetch pending failed")
		return 0, fmt.Errorf("backfill: %w", err)
	}

	for _, tx := range pending {
		s.queue.Enqueue(tx)
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastCount = len(pending)
	s.mu.Unlock()

	l.Info().Int("count", len(pending)).Msg("Backfill done")

	return len(pending), nil
}

// OnActive is the feed callback, it runs a backfill and logs failures
func (s *Service) OnActive(ctx context.Context) {
	if _, err := s.Run(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Backfill after subscription failed")
	}
}

// Last returns the time and size of the latest successful run
func (s *Service) Last() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastCount
}

// Schedule runs a backfill every interval until Stop, a safety net for
// notifications lost while the feed looked healthy
func (s *Service) Schedule(ctx context.Context, interval time.Duration) {
	go func(l logger.Logger) {
		t := time.NewTimer(interval)
		defer t.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				l.Debug().Msg("Scheduled backfill")
				if _, err := s.Run(ctx); err != nil {
					l.Error().Err(err).Msg("Scheduled backfill failed")
				}
				t.Reset(interval)
			}
		}
	}(s.logger)
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCh:
	default:
		s.logger.Debug().Msg("Service shutdown")
		close(s.stopCh)
	}
}
