package backfill

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
	"depositgate/internal/app/service/decision"
	"depositgate/internal/app/service/dispatcher"
	"depositgate/internal/app/storage/memory"
	storagemock "depositgate/internal/app/storage/mock"
	"depositgate/pkg/telegram"
)

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) Enqueue(tx *model.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, tx.ID)
}

type nopAlerter struct{}

func (nopAlerter) Alert(ctx context.Context, subject string, err error) {}

func TestService_RunEnqueuesPendingDeposits(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	store.Insert(ctx, &model.Transaction{ID: "T2", Type: model.TransactionTypeDeposit, CreatedAt: base.Add(2 * time.Minute)})
	store.Insert(ctx, &model.Transaction{ID: "T1", Type: model.TransactionTypeDeposit, CreatedAt: base.Add(time.Minute)})
	store.Insert(ctx, &model.Transaction{ID: "W1", Type: model.TransactionTypeWithdrawal, CreatedAt: base})
	store.Insert(ctx, &model.Transaction{ID: "D1", Type: model.TransactionTypeDeposit, Status: model.TransactionStatusApproved, CreatedAt: base})

	r := &recorder{}
	s := New(store, r, time.Second)

	n, err := s.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || strings.Join(r.ids, ",") != "T1,T2" {
		t.Fatalf("unexpected backfill %d %v", n, r.ids)
	}

	if _, err := s.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if at, count := s.Last(); at.IsZero() || count != 2 {
		t.Fatalf("unexpected last run %v %d", at, count)
	}
}

func TestService_RunStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	transactions := storagemock.NewMockTransactionRepository(ctrl)
	transactions.EXPECT().FetchPending(gomock.Any(), model.TransactionTypeDeposit).Return(nil, apperr.ErrStore)

	_, err := New(transactions, &recorder{}, time.Second).Run(context.Background())
	if !errors.Is(err, apperr.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
}

func TestService_BackfillThenConcurrentApprove(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.PutAccount("0911", decimal.Zero)
	store.Insert(ctx, &model.Transaction{ID: "T1", Phone: "0911", Amount: decimal.NewFromInt(100), Type: model.TransactionTypeDeposit})

	messenger := messaging.NewLogMessenger(logger.Nop())
	release := make(chan struct{})
	var once sync.Once
	messenger.FailSendWith(func(in *telegram.SendMessageRequest) error {
		once.Do(func() { <-release })
		return nil
	})

	d := dispatcher.New(store, store.Notifications(), messenger, nopAlerter{}, []int64{-100}, dispatcher.WithDelay(time.Millisecond))
	defer d.Stop()
	decisions := decision.New(store, store.Accounts(), store.Notifications(), store.Audit(), messenger, nopAlerter{})

	// the first notification is in transit while backfill queues it again
	d.Enqueue(&model.Transaction{ID: "T1"})
	if _, err := New(store, d, time.Second).Run(ctx); err != nil {
		t.Fatal(err)
	}
	close(release)
	waitIdle(t, d)

	if _, err := decisions.Decide(ctx, decision.Decision{Kind: model.ActionApprove, TransactionID: "T1", Actor: "42"}); err != nil {
		t.Fatal(err)
	}

	// a late backfill must not announce the decided transaction
	if _, err := New(store, d, time.Second).Run(ctx); err != nil {
		t.Fatal(err)
	}
	d.Enqueue(&model.Transaction{ID: "T1"})
	waitIdle(t, d)

	if n := len(messenger.Sent()); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}
	edits := messenger.Edits()
	if len(edits) != 1 || !strings.Contains(edits[0].Text, "APPROVED") {
		t.Fatalf("expected one terminal edit, got %+v", edits)
	}
}

func waitIdle(t *testing.T, d *dispatcher.Service) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !d.Idle() {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher did not become idle")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestService_Schedule(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.Insert(ctx, &model.Transaction{ID: "T1", Type: model.TransactionTypeDeposit})

	r := &recorder{}
	s := New(store, r, time.Second)
	s.Schedule(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.ids)
		r.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduled backfill did not run twice")
		}
		time.Sleep(time.Millisecond)
	}

	s.Stop()
	s.Stop()
}
