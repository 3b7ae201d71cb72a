package decision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/messaging"
	"depositgate/internal/app/model"
	"depositgate/internal/app/service/dispatcher"
	"depositgate/internal/app/storage/memory"
	storagemock "depositgate/internal/app/storage/mock"
	"depositgate/pkg/telegram"
)

type alertRecorder struct {
	mu       sync.Mutex
	subjects []string
}

func (r *alertRecorder) Alert(ctx context.Context, subject string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
}

func (r *alertRecorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subjects...)
}

type fixture struct {
	store      *memory.Store
	messenger  *messaging.LogMessenger
	alerts     *alertRecorder
	dispatcher *dispatcher.Service
	service    *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.New(),
		messenger: messaging.NewLogMessenger(logger.Nop()),
		alerts:    &alertRecorder{},
	}
	f.dispatcher = dispatcher.New(f.store, f.store.Notifications(), f.messenger, f.alerts, []int64{-100},
		dispatcher.WithDelay(time.Millisecond))
	t.Cleanup(f.dispatcher.Stop)

	opts = append([]Option{WithCallTimeout(time.Second)}, opts...)
	f.service = New(f.store, f.store.Accounts(), f.store.Notifications(), f.store.Audit(), f.messenger, f.alerts, opts...)

	return f
}

func (f *fixture) submit(t *testing.T, tx *model.Transaction) *model.Transaction {
	t.Helper()

	tx = f.store.Insert(context.Background(), tx)
	f.dispatcher.Enqueue(tx)

	deadline := time.Now().Add(5 * time.Second)
	for !f.dispatcher.Idle() {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher did not become idle")
		}
		time.Sleep(time.Millisecond)
	}
	return tx
}

func (f *fixture) balance(t *testing.T, phone string) decimal.Decimal {
	t.Helper()
	a, err := f.store.Accounts().Get(context.Background(), phone)
	if err != nil {
		t.Fatal(err)
	}
	return a.Balance
}

func deposit(id string) *model.Transaction {
	return &model.Transaction{ID: id, Phone: "0911", Amount: decimal.NewFromInt(100), Type: model.TransactionTypeDeposit}
}

func TestService_ApproveScenario(t *testing.T) {
	f := newFixture(t)
	f.store.PutAccount("0911", decimal.Zero)
	f.submit(t, deposit("T1"))

	if n := len(f.messenger.Sent()); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}

	action, err := model.ParseAction("approve_T1")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := f.service.Decide(ctx, Decision{Kind: action.Kind, TransactionID: action.Target, Actor: "42", CallbackID: "cb1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Edited != 1 || res.Transaction.Status != model.TransactionStatusApproved {
		t.Fatalf("unexpected result %+v", res)
	}
	if b := f.balance(t, "0911"); !b.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected balance 100, got %s", b)
	}

	edits := f.messenger.Edits()
	if len(edits) != 1 || !strings.Contains(edits[0].Text, "APPROVED") {
		t.Fatalf("unexpected edits %+v", edits)
	}
	if edits[0].ReplyMarkup == nil || len(edits[0].ReplyMarkup.InlineKeyboard) != 0 {
		t.Fatalf("buttons not cleared: %+v", edits[0].ReplyMarkup)
	}

	_, err = f.service.Decide(ctx, Decision{Kind: model.ActionApprove, TransactionID: "T1", Actor: "42", CallbackID: "cb2"})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != model.TransactionStatusApproved || !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Fatalf("expected already approved, got %v", err)
	}
	if b := f.balance(t, "0911"); !b.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("second approve changed balance to %s", b)
	}

	answers := f.messenger.Answers()
	if len(answers) != 2 || !strings.Contains(answers[1].Text, "already approved") {
		t.Fatalf("unexpected answers %+v", answers)
	}
	if n := len(f.messenger.Edits()); n != 1 {
		t.Fatalf("expected one edit, got %d", n)
	}
	if n := len(f.store.Audit().Records()); n != 1 {
		t.Fatalf("expected one audit record, got %d", n)
	}
	if f.service.Inflight() != 0 {
		t.Fatal("in-flight marker leaked")
	}
}

func TestService_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	f.store.PutAccount("0911", decimal.NewFromInt(5))
	f.submit(t, deposit("T1"))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		refused  int
		kinds    = []model.ActionKind{model.ActionApprove, model.ActionReject}
		attempts = 20
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(kind model.ActionKind) {
			defer wg.Done()
			_, err := f.service.Decide(context.Background(), Decision{Kind: kind, TransactionID: "T1", Actor: "42"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, apperr.ErrAlreadyProcessed), errors.Is(err, apperr.ErrInProgress):
				refused++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(kinds[i%2])
	}
	wg.Wait()

	if applied != 1 || refused != attempts-1 {
		t.Fatalf("applied=%d refused=%d", applied, refused)
	}

	tx, _ := f.store.Get(context.Background(), "T1")
	b := f.balance(t, "0911")
	switch tx.Status {
	case model.TransactionStatusApproved:
		if !b.Equal(decimal.NewFromInt(105)) {
			t.Fatalf("approved once but balance is %s", b)
		}
	case model.TransactionStatusRejected:
		if !b.Equal(decimal.NewFromInt(5)) {
			t.Fatalf("rejected but balance is %s", b)
		}
	default:
		t.Fatalf("unexpected status %s", tx.Status)
	}
}

func TestService_MissingTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Decide(context.Background(), Decision{Kind: model.ActionApprove, TransactionID: "nope", Actor: "42", CallbackID: "cb"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := len(f.alerts.Subjects()); n != 0 {
		t.Fatalf("missing transaction alerted %d times", n)
	}
	if a := f.messenger.Answers(); len(a) != 1 || !strings.Contains(a[0].Text, "not found") {
		t.Fatalf("unexpected answers %+v", a)
	}
}

func TestService_MissingAccountKeepsPending(t *testing.T) {
	f := newFixture(t)
	f.submit(t, deposit("T1"))

	_, err := f.service.Decide(context.Background(), Decision{Kind: model.ActionApprove, TransactionID: "T1", Actor: "42"})
	if !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}

	tx, _ := f.store.Get(context.Background(), "T1")
	if tx.Status != model.TransactionStatusPending {
		t.Fatalf("status changed to %s", tx.Status)
	}
}

func TestService_WithdrawalInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.store.PutAccount("0911", decimal.NewFromInt(50))
	tx := deposit("W1")
	tx.Type = model.TransactionTypeWithdrawal
	f.store.Insert(context.Background(), tx)

	_, err := f.service.Decide(context.Background(), Decision{Kind: model.ActionApprove, TransactionID: "W1", Actor: "42"})
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if b := f.balance(t, "0911"); !b.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("balance changed to %s", b)
	}
}

func TestService_RejectWithoutReasonRequirement(t *testing.T) {
	f := newFixture(t, WithReasonRequired(false))
	f.store.PutAccount("0911", decimal.NewFromInt(5))
	f.submit(t, deposit("T1"))

	err := f.service.Act(context.Background(), ActionRequest{Action: model.Reject("T1"), Actor: "42", ChatID: -100, CallbackID: "cb"})
	if err != nil {
		t.Fatal(err)
	}

	tx, _ := f.store.Get(context.Background(), "T1")
	if tx.Status != model.TransactionStatusRejected {
		t.Fatalf("unexpected status %s", tx.Status)
	}
	if b := f.balance(t, "0911"); !b.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("reject changed balance to %s", b)
	}
	if e := f.messenger.Edits(); len(e) != 1 || !strings.Contains(e[0].Text, "REJECTED") {
		t.Fatalf("unexpected edits %+v", e)
	}
}

func TestService_CompensatesOnStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	transactions := storagemock.NewMockTransactionRepository(ctrl)
	store := memory.New()
	store.PutAccount("0911", decimal.NewFromInt(10))
	alerts := &alertRecorder{}

	pending := deposit("T1")
	pending.Status = model.TransactionStatusPending

	transactions.EXPECT().Get(gomock.Any(), "T1").Return(pending, nil).Times(2)
	transactions.EXPECT().UpdateStatus(gomock.Any(), "T1", model.TransactionStatusPending, model.TransactionStatusApproved, gomock.Any()).
		Return(nil, apperr.ErrStore)

	s := New(transactions, store.Accounts(), store.Notifications(), store.Audit(), messaging.NewLogMessenger(logger.Nop()), alerts)

	_, err := s.Decide(context.Background(), Decision{Kind: model.ActionApprove, TransactionID: "T1", Actor: "42"})
	if !errors.Is(err, apperr.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}

	a, _ := store.Accounts().Get(context.Background(), "0911")
	if !a.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance not compensated: %s", a.Balance)
	}
	if n := len(store.Audit().Records()); n != 0 {
		t.Fatalf("failed decision audited %d times", n)
	}
}

func TestService_AmbiguousFailureThatLanded(t *testing.T) {
	ctrl := gomock.NewController(t)
	transactions := storagemock.NewMockTransactionRepository(ctrl)
	store := memory.New()
	store.PutAccount("0911", decimal.NewFromInt(10))

	pending := deposit("T1")
	pending.Status = model.TransactionStatusPending
	approved := deposit("T1")
	approved.Status = model.TransactionStatusApproved
	approved.ProcessedBy = "42"

	gomock.InOrder(
		transactions.EXPECT().Get(gomock.Any(), "T1").Return(pending, nil),
		transactions.EXPECT().UpdateStatus(gomock.Any(), "T1", gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, apperr.ErrStore),
		transactions.EXPECT().Get(gomock.Any(), "T1").Return(approved, nil),
	)

	s := New(transactions, store.Accounts(), store.Notifications(), store.Audit(), messaging.NewLogMessenger(logger.Nop()), &alertRecorder{})

	res, err := s.Decide(context.Background(), Decision{Kind: model.ActionApprove, TransactionID: "T1", Actor: "42"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Balance.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("unexpected balance %s", res.Balance)
	}
	a, _ := store.Accounts().Get(context.Background(), "0911")
	if !a.Balance.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("applied approval was compensated: %s", a.Balance)
	}
}

func TestService_FailedCompensationAlerts(t *testing.T) {
	ctrl := gomock.NewController(t)
	transactions := storagemock.NewMockTransactionRepository(ctrl)
	accounts := storagemock.NewMockAccountRepository(ctrl)
	store := memory.New()
	alerts := &alertRecorder{}

	pending := deposit("T1")
	pending.Status = model.TransactionStatusPending
	current := deposit("T1")
	current.Status = model.TransactionStatusRejected

	transactions.EXPECT().Get(gomock.Any(), "T1").Return(pending, nil)
	transactions.EXPECT().UpdateStatus(gomock.Any(), "T1", gomock.Any(), gomock.Any(), gomock.Any()).Return(current, apperr.ErrConflict)

	accounts.EXPECT().AdjustBalance(gomock.Any(), "0911", gomock.Any()).DoAndReturn(
		func(ctx context.Context, phone string, delta decimal.Decimal) (decimal.Decimal, error) {
			if delta.IsNegative() {
				return decimal.Zero, apperr.ErrStore
			}
			return decimal.NewFromInt(100), nil
		}).Times(2)

	s := New(transactions, accounts, store.Notifications(), store.Audit(), messaging.NewLogMessenger(logger.Nop()), alerts)

	_, err := s.Decide(context.Background(), Decision{Kind: model.ActionApprove, TransactionID: "T1", Actor: "42"})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != model.TransactionStatusRejected {
		t.Fatalf("expected already rejected, got %v", err)
	}

	subjects := alerts.Subjects()
	if len(subjects) != 1 || !strings.Contains(subjects[0], "manual correction") {
		t.Fatalf("expected a compensation alert, got %v", subjects)
	}
}

func TestService_UnknownKind(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Decide(context.Background(), Decision{Kind: model.ActionHistory, TransactionID: "T1"})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStatusText(t *testing.T) {
	tx := &model.Transaction{Status: model.TransactionStatusRejected, ProcessedBy: "ops", RejectReason: "<dup>"}

	text := StatusText(tx)
	for _, want := range []string{"Status: REJECTED", "By: ops", "Reason: &lt;dup&gt;"} {
		if !strings.Contains(text, want) {
			t.Errorf("%q not found in %q", want, text)
		}
	}
}

func TestDescribe_UnexpectedError(t *testing.T) {
	got := Describe(model.ActionApprove, nil, telegramErr())
	if !strings.Contains(got, "operations were notified") {
		t.Fatalf("unexpected text %q", got)
	}
}

func telegramErr() error {
	return &telegram.RemoteError{StatusCode: 502, Description: "Bad Gateway"}
}
