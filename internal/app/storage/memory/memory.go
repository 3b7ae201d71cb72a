// Package memory is a process-local record store with the same contract as the
// postgres adapter. Used by tests and by STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/model"
	"depositgate/internal/app/storage"
)

var (
	_ storage.TransactionRepository  = (*Store)(nil)
	_ storage.AccountRepository      = (*Accounts)(nil)
	_ storage.NotificationRepository = (*Notifications)(nil)
	_ storage.AuditRepository        = (*Audit)(nil)
	_ storage.Feed                   = (*Store)(nil)
)

type subscriber struct {
	p  storage.InsertPredicate
	cb storage.InsertCallback
}

// Store holds transactions and accounts, accounts and notifications are exposed
// through views so each satisfies its own repository interface
type Store struct {
	mu            sync.RWMutex
	transactions  map[string]*model.Transaction
	accounts      map[string]*model.Account
	notifications []*model.Notification
	audit         []*model.AuditRecord
	subs          []subscriber
	feedState     storage.FeedState
	seq           int64
}

func New() *Store {
	return &Store{
		transactions: make(map[string]*model.Transaction),
		accounts:     make(map[string]*model.Account),
	}
}

func (s *Store) Accounts() *Accounts           { return &Accounts{s} }
func (s *Store) Notifications() *Notifications { return &Notifications{s} }
func (s *Store) Audit() *Audit                 { return &Audit{s} }

func copyTx(m *model.Transaction) *model.Transaction {
	c := *m
	if m.ProcessedAt != nil {
		t := *m.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// Insert stores a transaction and delivers it to matching subscribers
func (s *Store) Insert(ctx context.Context, m *model.Transaction) *model.Transaction {
	s.mu.Lock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = model.TransactionStatusPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.transactions[m.ID] = copyTx(m)
	subs := append([]subscriber(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.p == nil || sub.p(m) {
			sub.cb(ctx, copyTx(m))
		}
	}

	return m
}

// PutAccount creates or replaces an account
func (s *Store) PutAccount(phone string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[phone] = &model.Account{Phone: phone, Balance: balance, CreatedAt: time.Now()}
}

// FetchPending implementation of interface storage.TransactionRepository
func (s *Store) FetchPending(ctx context.Context, t model.TransactionType) ([]*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]*model.Transaction, 0)
	for _, m := range s.transactions {
		if m.Type == t && m.Status == model.TransactionStatusPending {
			res = append(res, copyTx(m))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })

	return res, nil
}

// Get implementation of interface storage.TransactionRepository
func (s *Store) Get(ctx context.Context, id string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.transactions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return copyTx(m), nil
}

// UpdateStatus implementation of interface storage.TransactionRepository
func (s *Store) UpdateStatus(
	ctx context.Context,
	id string,
	expected, next model.TransactionStatus,
	upd model.StatusUpdate,
) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.transactions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if m.Status != expected {
		return copyTx(m), apperr.ErrConflict
	}

	at := upd.ProcessedAt
	m.Status = next
	m.ProcessedAt = &at
	m.ProcessedBy = upd.ProcessedBy
	m.RejectReason = upd.RejectReason

	return copyTx(m), nil
}

// ListByPhone implementation of interface storage.TransactionRepository
func (s *Store) ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]*model.Transaction, 0)
	for _, m := range s.transactions {
		if m.Phone == phone {
			res = append(res, copyTx(m))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}

	return res, nil
}

// Summary implementation of interface storage.TransactionRepository
func (s *Store) Summary(ctx context.Context, since time.Time) ([]*model.SummaryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		t  model.TransactionType
		st model.TransactionStatus
	}
	rows := make(map[key]*model.SummaryRow)
	for _, m := range s.transactions {
		if m.CreatedAt.Before(since) {
			continue
		}
		k := key{m.Type, m.Status}
		r, ok := rows[k]
		if !ok {
			r = &model.SummaryRow{Type: m.Type, Status: m.Status}
			rows[k] = r
		}
		r.Count++
		r.Total = r.Total.Add(m.Amount)
	}

	res := make([]*model.SummaryRow, 0, len(rows))
	for _, r := range rows {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Type != res[j].Type {
			return res[i].Type < res[j].Type
		}
		return res[i].Status < res[j].Status
	})

	return res, nil
}

// SubscribeInserts implementation of interface storage.Feed, blocks until ctx is done
func (s *Store) SubscribeInserts(
	ctx context.Context,
	p storage.InsertPredicate,
	cb storage.InsertCallback,
	onActive func(ctx context.Context),
) error {
	s.mu.Lock()
	s.subs = append(s.subs, subscriber{p: p, cb: cb})
	idx := len(s.subs) - 1
	s.feedState = storage.FeedActive
	s.mu.Unlock()

	if onActive != nil {
		onActive(ctx)
	}

	<-ctx.Done()

	s.mu.Lock()
	s.subs[idx] = subscriber{p: func(*model.Transaction) bool { return false }}
	s.feedState = storage.FeedDisconnected
	s.mu.Unlock()

	return nil
}

// State implementation of interface storage.Feed
func (s *Store) State() storage.FeedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feedState
}

type Accounts struct {
	s *Store
}

// Get implementation of interface storage.AccountRepository
func (a *Accounts) Get(ctx context.Context, phone string) (*model.Account, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	m, ok := a.s.accounts[phone]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *m
	return &c, nil
}

// AdjustBalance implementation of interface storage.AccountRepository
func (a *Accounts) AdjustBalance(ctx context.Context, phone string, delta decimal.Decimal) (decimal.Decimal, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	m, ok := a.s.accounts[phone]
	if !ok {
		return decimal.Zero, apperr.ErrNotFound
	}

	next := m.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, apperr.ErrInsufficientFunds
	}
	m.Balance = next

	return next, nil
}

type Notifications struct {
	s *Store
}

// Create implementation of interface storage.NotificationRepository
func (n *Notifications) Create(ctx context.Context, m *model.Notification) (*model.Notification, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	for _, e := range n.s.notifications {
		if e.TransactionID == m.TransactionID && e.ChatID == m.ChatID {
			return nil, apperr.ErrConflict
		}
	}

	n.s.seq++
	m.ID = n.s.seq
	m.CreatedAt = time.Now()
	c := *m
	n.s.notifications = append(n.s.notifications, &c)

	return m, nil
}

// ListByTransaction implementation of interface storage.NotificationRepository
func (n *Notifications) ListByTransaction(ctx context.Context, transactionID string) ([]*model.Notification, error) {
	n.s.mu.RLock()
	defer n.s.mu.RUnlock()

	res := make([]*model.Notification, 0)
	for _, e := range n.s.notifications {
		if e.TransactionID == transactionID {
			c := *e
			res = append(res, &c)
		}
	}
	return res, nil
}

// MarkEdited implementation of interface storage.NotificationRepository
func (n *Notifications) MarkEdited(ctx context.Context, id int64, at time.Time) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	for _, e := range n.s.notifications {
		if e.ID == id && e.EditedAt == nil {
			t := at
			e.EditedAt = &t
		}
	}
	return nil
}

type Audit struct {
	s *Store
}

// Create implementation of interface storage.AuditRepository
func (a *Audit) Create(ctx context.Context, m *model.AuditRecord) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	c := *m
	a.s.audit = append(a.s.audit, &c)
	return nil
}

// Records returns a copy of the audit trail
func (a *Audit) Records() []*model.AuditRecord {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return append([]*model.AuditRecord(nil), a.s.audit...)
}
