package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/messaging"
	"depositgate/internal/app/metrics"
	"depositgate/internal/app/model"
	"depositgate/internal/app/service/alert"
	"depositgate/internal/app/storage"
)

const (
	defaultDelay       = 500 * time.Millisecond
	defaultMaxRetries  = 3
	defaultCallTimeout = 10 * time.Second
)

type item struct {
	tx      *model.Transaction
	retries int
	sent    map[int64]bool
}

// Service is a single-consumer notification queue.
// At most one goroutine drains the queue at any time.
type Service struct {
	mu     sync.Mutex
	logger logger.Logger

	transactions  storage.TransactionRepository
	notifications storage.NotificationRepository
	messenger     messaging.Messenger
	alerter       alert.Alerter
	chats         []int64

	delay       time.Duration
	maxRetries  int
	callTimeout time.Duration

	queue []*item
	// queued holds ids from Enqueue until the item is sent or dropped
	queued  map[string]struct{}
	sending bool
	stopped bool
	stopCh  chan struct{}
}

func (s *Service) LoggerComponent() string {
	return "Dispatcher.Service"
}

type Option func(*Service)

// WithDelay sets the pause between consecutive sends
func WithDelay(d time.Duration) Option {
	return func(s *Service) {
		s.delay = d
	}
}

// WithMaxRetries sets how many times a failed item goes back to the queue
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		s.maxRetries = n
	}
}

// WithCallTimeout bounds every store and transport call
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.callTimeout = d
	}
}

func New(
	transactions storage.TransactionRepository,
	notifications storage.NotificationRepository,
	messenger messaging.Messenger,
	alerter alert.Alerter,
	chats []int64,
	opts ...Option,
) *Service {
	s := &Service{
		transactions:  transactions,
		notifications: notifications,
		messenger:     messenger,
		alerter:       alerter,
		chats:         chats,
		delay:         defaultDelay,
		maxRetries:    defaultMaxRetries,
		callTimeout:   defaultCallTimeout,
		queued:        make(map[string]struct{}),
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = logger.Global().Component(s)

	return s
}

// Enqueue appends tx to the queue tail and starts draining if idle.
// A transaction already waiting in the queue or being sent is not added twice.
func (s *Service) Enqueue(tx *model.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.logger.With().Str("transaction_id", tx.ID).Logger()

	if s.stopped {
		l.Warn().Msg("Enqueue after stop ignored")
		return
	}

	if _, ok := s.queued[tx.ID]; ok {
		l.Debug().Msg("Already queued")
		return
	}

	s.queued[tx.ID] = struct{}{}
	s.push(&item{tx: tx, sent: make(map[int64]bool)})
	l.Debug().Int("queue_length", len(s.queue)).Msg("Enqueued")

	if !s.sending {
		s.sending = true
		go s.drain()
	}
}

// Len returns the number of queued transactions
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Idle reports whether the queue is empty and nothing is being sent
func (s *Service) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.sending && len(s.queue) == 0
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.logger.Debug().Int("queue_length", len(s.queue)).Msg("Service shutdown")
	s.stopped = true
	close(s.stopCh)
}

// push must be called with mu held
func (s *Service) push(it *item) {
	s.queue = append(s.queue, it)
	metrics.QueueLength.Set(float64(len(s.queue)))
}

// pop returns the queue head, or nil and clears the sending flag when empty
func (s *Service) pop() *item {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 || s.stopped {
		s.sending = false
		return nil
	}

	it := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	metrics.QueueLength.Set(float64(len(s.queue)))

	return it
}

// pause waits the inter-message delay, false means draining is over
func (s *Service) pause() bool {
	s.mu.Lock()
	if len(s.queue) == 0 || s.stopped {
		s.sending = false
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	t := time.NewTimer(s.delay)
	defer t.Stop()

	select {
	case <-s.stopCh:
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
		return false
	case <-t.C:
		return true
	}
}

// done releases the id of an item that left the pipeline
func (s *Service) done(it *item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queued, it.tx.ID)
}

func (s *Service) drain() {
	for {
		it := s.pop()
		if it == nil {
			return
		}

		s.process(it)

		if !s.pause() {
			return
		}
	}
}

func (s *Service) process(it *item) {
	jobID := uuid.New()
	l := s.logger.With().
		Str("job_id", jobID.String()).
		Str("transaction_id", it.tx.ID).
		Int("retries", it.retries).
		Logger()
	ctx := l.WithContext(context.Background())

	err := s.safeSend(ctx, it)
	if err == nil {
		s.done(it)
		return
	}

	if it.retries < s.maxRetries {
		it.retries++
		metrics.NotificationRetries.Inc()
		l.Warn().Err(err).Msg("Notification failed, retrying")

		s.mu.Lock()
		if s.stopped {
			delete(s.queued, it.tx.ID)
		} else {
			s.push(it)
		}
		s.mu.Unlock()
		return
	}

	s.done(it)
	metrics.NotificationsDropped.Inc()
	l.Error().Err(err).Msg("Notification dropped")
	s.alerter.Alert(ctx, fmt.Sprintf("Notification for transaction %s dropped after %d attempts", it.tx.ID, it.retries+1), err)
}

// safeSend turns a panic of one send into a failed attempt
func (s *Service) safeSend(ctx context.Context, it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			lg := logger.Ctx(ctx)
			lg.Error().Str("stack", string(debug.Stack())).Interface("panic", r).Msg("Notification send panicked")
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return s.send(ctx, it)
}

// send delivers the notification to every chat still missing it.
// The transaction is re-read first so decided transactions are never announced.
func (s *Service) send(ctx context.Context, it *item) error {
	l := logger.Ctx(ctx)

	tx, err := s.getTransaction(ctx, it.tx.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		metrics.NotificationsSkipped.Inc()
		l.Warn().Msg("Transaction vanished, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	if tx.Status != model.TransactionStatusPending {
		metrics.NotificationsSkipped.Inc()
		l.Info().Str("status", string(tx.Status)).Msg("Already decided, skipping")
		return nil
	}

	if err := s.loadSent(ctx, it); err != nil {
		return err
	}

	var failed error
	for _, chatID := range s.chats {
		if it.sent[chatID] {
			continue
		}
		if err := s.sendTo(ctx, tx, chatID); err != nil {
			l.Warn().Err(err).Int64("chat_id", chatID).Msg("Send failed")
			failed = err
			continue
		}
		it.sent[chatID] = true
	}

	return failed
}

func (s *Service) getTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.transactions.Get(ctx, id)
}

// loadSent marks chats that already hold a notification for the transaction
func (s *Service) loadSent(ctx context.Context, it *item) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	existing, err := s.notifications.ListByTransaction(ctx, it.tx.ID)
	if err != nil {
		return fmt.Errorf("notifications list: %w", err)
	}
	for _, n := range existing {
		it.sent[n.ChatID] = true
	}
	return nil
}

func (s *Service) sendTo(ctx context.Context, tx *model.Transaction, chatID int64) error {
	l := logger.Ctx(ctx).With().Int64("chat_id", chatID).Logger()

	text := Render(tx)

	sctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	msg, err := s.messenger.SendMessage(sctx, NewMessage(tx, chatID, text))
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}
	if msg == nil {
		return fmt.Errorf("%w: empty send result", apperr.ErrTransport)
	}
	metrics.NotificationsSent.Inc()

	rctx, rcancel := context.WithTimeout(ctx, s.callTimeout)
	defer rcancel()

	_, err = s.notifications.Create(rctx, &model.Notification{
		TransactionID: tx.ID,
		ChatID:        chatID,
		MessageID:     msg.MessageID,
		Text:          text,
	})
	if err != nil && !errors.Is(err, apperr.ErrConflict) {
		// the message is out, resending would duplicate it
		l.Error().Err(err).Int64("message_id", msg.MessageID).Msg("Notification record failed")
		s.alerter.Alert(ctx, fmt.Sprintf("Notification for transaction %s sent but not recorded, it will not be edited on decision", tx.ID), err)
	}

	l.Info().Int64("message_id", msg.MessageID).Msg("Notification sent")

	return nil
}
