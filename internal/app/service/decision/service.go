package decision

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/broker"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/messaging"
	"depositgate/internal/app/metrics"
	"depositgate/internal/app/model"
	"depositgate/internal/app/service/alert"
	"depositgate/internal/app/session"
	"depositgate/internal/app/storage"
	"depositgate/pkg/telegram"
)

const defaultCallTimeout = 10 * time.Second

// Decision is an operator verdict on a single transaction
type Decision struct {
	Kind          model.ActionKind
	TransactionID string
	Actor         string
	Reason        string
	// CallbackID is answered with the outcome when set
	CallbackID string
}

type Result struct {
	Transaction *model.Transaction
	// Balance after an approval
	Balance decimal.Decimal
	// Edited counts notifications updated to the terminal status
	Edited int
}

type Service struct {
	logger        logger.Logger
	transactions  storage.TransactionRepository
	accounts      storage.AccountRepository
	notifications storage.NotificationRepository
	audit         storage.AuditRepository
	messenger     messaging.Messenger
	publisher     broker.Publisher
	alerter       alert.Alerter
	sessions      session.Store
	inflight      *Inflight
	validate      *validator.Validate

	callTimeout    time.Duration
	reasonRequired bool
	now            func() time.Time
}

func (s *Service) LoggerComponent() string {
	return "Decision.Service"
}

type Option func(*Service)

func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.callTimeout = d
	}
}

// WithReasonRequired makes reject actions prompt for a reason first
func WithReasonRequired(v bool) Option {
	return func(s *Service) {
		s.reasonRequired = v
	}
}

func WithPublisher(p broker.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithSessions(st session.Store) Option {
	return func(s *Service) {
		s.sessions = st
	}
}

func New(
	transactions storage.TransactionRepository,
	accounts storage.AccountRepository,
	notifications storage.NotificationRepository,
	audit storage.AuditRepository,
	messenger messaging.Messenger,
	alerter alert.Alerter,
	opts ...Option,
) *Service {
	s := &Service{
		transactions:   transactions,
		accounts:       accounts,
		notifications:  notifications,
		audit:          audit,
		messenger:      messenger,
		alerter:        alerter,
		publisher:      &broker.Log{},
		sessions:       session.NewMemory(),
		inflight:       NewInflight(),
		validate:       validator.New(),
		callTimeout:    defaultCallTimeout,
		reasonRequired: true,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = logger.Global().Component(s)

	return s
}

// ReasonRequired reports whether rejects go through the reason prompt
func (s *Service) ReasonRequired() bool {
	return s.reasonRequired
}

// Inflight returns the number of decisions currently running
func (s *Service) Inflight() int {
	return s.inflight.Len()
}

// Decide applies d exactly once and answers the originating callback
func (s *Service) Decide(ctx context.Context, d Decision) (*Result, error) {
	l := logger.Get(ctx, s).With().
		Str("transaction_id", d.TransactionID).
		Str("action", d.Kind.String()).
		Str("actor", d.Actor).
		Logger()
	ctx = l.WithContext(ctx)

	res, err := s.decide(ctx, d)

	outcome := "ok"
	switch {
	case err == nil:
		l.Info().Msg("Decision applied")
	case Expected(err):
		outcome = "rejected"
		l.Info().Err(err).Msg("Decision refused")
	default:
		outcome = "error"
		l.Error().Err(err).Msg("Decision failed")
		s.alerter.Alert(ctx, fmt.Sprintf("%s of transaction %s by %s failed", d.Kind, d.TransactionID, d.Actor), err)
	}
	metrics.Decisions.WithLabelValues(d.Kind.String(), outcome).Inc()

	if d.CallbackID != "" {
		s.answer(ctx, d.CallbackID, Describe(d.Kind, res, err))
	}

	return res, err
}

func (s *Service) decide(ctx context.Context, d Decision) (*Result, error) {
	var next model.TransactionStatus
	switch d.Kind {
	case model.ActionApprove:
		next = model.TransactionStatusApproved
	case model.ActionReject:
		next = model.TransactionStatusRejected
	default:
		return nil, fmt.Errorf("%w: %s is not a decision", apperr.ErrInvalidInput, d.Kind)
	}

	release, ok := s.inflight.TryAcquire(d.TransactionID)
	if !ok {
		return nil, apperr.ErrInProgress
	}
	defer release()

	tx, err := s.get(ctx, d.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != model.TransactionStatusPending {
		return nil, &StatusError{Status: tx.Status}
	}

	res := &Result{}
	delta := tx.BalanceDelta()

	if d.Kind == model.ActionApprove {
		res.Balance, err = s.adjust(ctx, tx.Phone, delta)
		if err != nil {
			return nil, err
		}
	}

	upd := model.StatusUpdate{
		ProcessedBy:  d.Actor,
		ProcessedAt:  s.now(),
		RejectReason: d.Reason,
	}
	updated, err := s.updateStatus(ctx, tx.ID, next, upd)
	if err != nil {
		if d.Kind != model.ActionApprove {
			return nil, s.statusErr(updated, err)
		}
		if !errors.Is(err, apperr.ErrConflict) && !errors.Is(err, apperr.ErrNotFound) {
			// the write may have landed before the error surfaced
			if cur, rerr := s.get(ctx, tx.ID); rerr == nil &&
				cur.Status == model.TransactionStatusApproved && cur.ProcessedBy == d.Actor {
				lg := logger.Ctx(ctx)
				lg.Warn().Err(err).Msg("Status update reported failure but was applied")
				updated, err = cur, nil
			}
		}
		if err != nil {
			s.compensate(ctx, tx, delta)
			return nil, s.statusErr(updated, err)
		}
	}

	res.Transaction = updated
	s.complete(ctx, d, res)

	return res, nil
}

func (s *Service) statusErr(cur *model.Transaction, err error) error {
	if errors.Is(err, apperr.ErrConflict) && cur != nil {
		return &StatusError{Status: cur.Status}
	}
	return err
}

func (s *Service) get(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.transactions.Get(ctx, id)
}

func (s *Service) updateStatus(ctx context.Context, id string, next model.TransactionStatus, upd model.StatusUpdate) (*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.transactions.UpdateStatus(ctx, id, model.TransactionStatusPending, next, upd)
}

func (s *Service) adjust(ctx context.Context, phone string, delta decimal.Decimal) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	b, err := s.accounts.AdjustBalance(ctx, phone, delta)
	if errors.Is(err, apperr.ErrNotFound) {
		return b, fmt.Errorf("%w: %s", ErrNoAccount, phone)
	}
	return b, err
}

// compensate reverses a balance adjustment whose status transition failed
func (s *Service) compensate(ctx context.Context, tx *model.Transaction, delta decimal.Decimal) {
	l := logger.Ctx(ctx)
	ctx = context.WithoutCancel(ctx)

	if _, err := s.adjust(ctx, tx.Phone, delta.Neg()); err != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		l.Error().Err(err).Str("delta", delta.String()).Msg("Balance compensation failed")
		s.alerter.Alert(ctx, fmt.Sprintf("Balance of %s needs manual correction by %s after transaction %s", tx.Phone, delta.Neg(), tx.ID), err)
		return
	}

	metrics.Compensations.WithLabelValues("applied").Inc()
	l.Warn().Str("delta", delta.String()).Msg("Balance compensated")
}

// complete runs the side effects of a durable decision, none of them undo it
func (s *Service) complete(ctx context.Context, d Decision, res *Result) {
	l := logger.Ctx(ctx)
	tx := res.Transaction
	outcome := string(tx.Status)

	actx, cancel := context.WithTimeout(ctx, s.callTimeout)
	err := s.audit.Create(actx, &model.AuditRecord{
		Actor:         d.Actor,
		Action:        d.Kind.String(),
		TransactionID: tx.ID,
		Outcome:       outcome,
		CreatedAt:     s.now(),
	})
	cancel()
	if err != nil {
		l.Error().Err(err).Msg("Audit record failed")
		s.alerter.Alert(ctx, fmt.Sprintf("Audit record for transaction %s missing", tx.ID), err)
	}

	res.Edited = s.editNotifications(ctx, tx)

	ev := &model.DecisionEvent{
		TransactionID: tx.ID,
		Phone:         tx.Phone,
		Action:        d.Kind.String(),
		Status:        tx.Status,
		Actor:         d.Actor,
		DecidedAt:     s.now(),
	}
	if tx.Status == model.TransactionStatusApproved {
		ev.Balance = res.Balance.String()
	}

	pctx, pcancel := context.WithTimeout(ctx, s.callTimeout)
	defer pcancel()
	if err := s.publisher.Publish(pctx, ev); err != nil {
		l.Error().Err(err).Msg("Decision event not published")
	}
}

// StatusText is appended to a notification once its transaction is decided
func StatusText(tx *model.Transaction) string {
	var b strings.Builder
	icon := "✅"
	if tx.Status == model.TransactionStatusRejected {
		icon = "❌"
	}
	fmt.Fprintf(&b, "\n\n%s <b>Status: %s</b>", icon, strings.ToUpper(string(tx.Status)))
	if tx.ProcessedBy != "" {
		fmt.Fprintf(&b, "\n👤 By: %s", html.EscapeString(tx.ProcessedBy))
	}
	if tx.RejectReason != "" {
		fmt.Fprintf(&b, "\n📝 Reason: %s", html.EscapeString(tx.RejectReason))
	}
	return b.String()
}

func (s *Service) editNotifications(ctx context.Context, tx *model.Transaction) int {
	l := logger.Ctx(ctx)

	lctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	records, err := s.notifications.ListByTransaction(lctx, tx.ID)
	cancel()
	if err != nil {
		l.Error().Err(err).Msg("Notifications not loaded, messages keep their buttons")
		return 0
	}

	edited := 0
	suffix := StatusText(tx)
	for _, n := range records {
		if n.EditedAt != nil {
			continue
		}

		ectx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := s.messenger.EditMessageText(ectx, &telegram.EditMessageTextRequest{
			ChatID:      n.ChatID,
			MessageID:   n.MessageID,
			Text:        n.Text + suffix,
			ParseMode:   telegram.ParseModeHTML,
			ReplyMarkup: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{}},
		})
		cancel()
		if err != nil {
			l.Warn().Err(err).Int64("chat_id", n.ChatID).Int64("message_id", n.MessageID).Msg("Notification edit failed")
			continue
		}

		mctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		if err := s.notifications.MarkEdited(mctx, n.ID, s.now()); err != nil {
			l.Warn().Err(err).Int64("notification_id", n.ID).Msg("Edit not recorded")
		}
		cancel()
		edited++
	}

	return edited
}

func (s *Service) answer(ctx context.Context, callbackID, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()

	err := s.messenger.AnswerCallbackQuery(ctx, &telegram.AnswerCallbackQueryRequest{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       true,
	})
	if err != nil {
		lg := logger.Ctx(ctx)
		lg.Warn().Err(err).Msg("Callback answer failed")
	}
}

func (s *Service) reply(ctx context.Context, chatID, replyTo int64, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()

	_, err := s.messenger.SendMessage(ctx, &telegram.SendMessageRequest{
		ChatID:           chatID,
		Text:             text,
		ReplyToMessageID: replyTo,
	})
	if err != nil {
		lg := logger.Ctx(ctx)
		lg.Warn().Err(err).Int64("chat_id", chatID).Msg("Reply failed")
	}
}
