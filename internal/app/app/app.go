package app

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"sync"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"depositgate/internal/app/broker"
	"depositgate/internal/app/config"
	"depositgate/internal/app/handler"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/messaging"
	"depositgate/internal/app/model"
	"depositgate/internal/app/service/alert"
	"depositgate/internal/app/service/backfill"
	"depositgate/internal/app/service/decision"
	"depositgate/internal/app/service/dispatcher"
	"depositgate/internal/app/session"
	"depositgate/internal/app/storage"
	"depositgate/internal/app/storage/memory"
	"depositgate/internal/app/storage/postgres"
	"depositgate/pkg/telegram"
)

type repositories struct {
	transactions  storage.TransactionRepository
	accounts      storage.AccountRepository
	notifications storage.NotificationRepository
	audit         storage.AuditRepository
	feed          storage.Feed
}

type App struct {
	config config.Config
	logger logger.Logger

	repositories
	memory     *memory.Store
	messenger  messaging.Messenger
	telegram   *telegram.Service
	alerts     *alert.Service
	dispatcher *dispatcher.Service
	decisions  *decision.Service
	backfill   *backfill.Service
	tokens     *session.Tokens
	allow      *handler.AllowList

	closers []io.Closer
	wg      sync.WaitGroup
	stopCh  chan struct{}
	once    sync.Once
}

func New(cfg config.Config, l logger.Logger, e embed.FS) (*App, error) {
	a := &App{
		config: cfg,
		logger: l.WithComponent("App"),
		tokens: session.NewTokens(cfg.SecretKey),
		stopCh: make(chan struct{}),
	}

	if err := a.initStorage(e); err != nil {
		a.close()
		return nil, err
	}

	if err := a.initMessenger(); err != nil {
		a.close()
		return nil, err
	}

	if err := a.initServices(); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *App) initStorage(e embed.FS) error {
	switch a.config.Database.Driver {
	case config.StorageDriverMemory:
		a.memory = memory.New()
		a.repositories = repositories{
			transactions:  a.memory,
			accounts:      a.memory.Accounts(),
			notifications: a.memory.Notifications(),
			audit:         a.memory.Audit(),
			feed:          a.memory,
		}
		a.logger.Warn().Msg("Using in-memory storage")
		return nil
	}

	db, err := sql.Open("postgres", a.config.Database.DSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	a.closers = append(a.closers, db)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	if err := applyMigrations(e, db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	transactions, err := postgres.NewTransactionRepository(db)
	if err != nil {
		return fmt.Errorf("transaction repository init: %w", err)
	}
	accounts, err := postgres.NewAccountRepository(db)
	if err != nil {
		return fmt.Errorf("account repository init: %w", err)
	}
	notifications, err := postgres.NewNotificationRepository(db)
	if err != nil {
		return fmt.Errorf("notification repository init: %w", err)
	}
	audit, err := postgres.NewAuditRepository(db)
	if err != nil {
		return fmt.Errorf("audit repository init: %w", err)
	}

	a.repositories = repositories{
		transactions:  transactions,
		accounts:      accounts,
		notifications: notifications,
		audit:         audit,
		feed: postgres.NewFeed(a.config.Database.DSN, a.config.Database.MinReconnect, a.config.Database.MaxReconnect,
			transactions, postgres.WithFeedTimeout(a.config.Dispatch.CallTimeout)),
	}

	return nil
}

func (a *App) initMessenger() error {
	if a.config.Telegram.Token == "" {
		a.logger.Warn().Msg("No bot token, messages are logged only")
		a.messenger = messaging.NewLogMessenger(a.logger)
		return nil
	}

	tg, err := telegram.NewService(a.config.Telegram.APIURL, a.config.Telegram.Token,
		telegram.WithLogger(a.logger.Logger),
		telegram.WithBreaker(telegram.DefaultBreakerSettings(a.logger.Logger)))
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}
	a.telegram = tg
	a.messenger = tg

	return nil
}

func (a *App) initServices() error {
	cfg := a.config

	chats, err := cfg.Telegram.AdminChats()
	if err != nil {
		return err
	}
	users, err := cfg.Telegram.AllowedUsers()
	if err != nil {
		return err
	}
	a.allow = handler.NewAllowList(users, chats)

	a.alerts = alert.New(a.messenger, cfg.Telegram.OpsChat(), cfg.Dispatch.CallTimeout)

	a.dispatcher = dispatcher.New(a.transactions, a.notifications, a.messenger, a.alerts, chats,
		dispatcher.WithDelay(cfg.Dispatch.Delay),
		dispatcher.WithMaxRetries(cfg.Dispatch.MaxRetries),
		dispatcher.WithCallTimeout(cfg.Dispatch.CallTimeout))

	a.backfill = backfill.New(a.transactions, a.dispatcher, cfg.Dispatch.CallTimeout)

	sessions, err := a.sessionStore()
	if err != nil {
		return err
	}

	publisher, err := a.publisher()
	if err != nil {
		return err
	}

	a.decisions = decision.New(a.transactions, a.accounts, a.notifications, a.audit, a.messenger, a.alerts,
		decision.WithCallTimeout(cfg.Dispatch.CallTimeout),
		decision.WithReasonRequired(cfg.Dispatch.RejectReasonRequired),
		decision.WithSessions(sessions),
		decision.WithPublisher(publisher))

	return nil
}

func (a *App) sessionStore() (session.Store, error) {
	if a.config.Session.Backend != config.SessionBackendRedis {
		return session.NewMemory(session.WithTTL(a.config.Session.TTL)), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.config.Redis.Addr,
		Password: a.config.Redis.Password,
		DB:       a.config.Redis.DB,
	})
	a.closers = append(a.closers, client)

	ctx, cancel := context.WithTimeout(context.Background(), a.config.Dispatch.CallTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return session.NewRedis(client, a.config.Session.TTL), nil
}

func (a *App) publisher() (broker.Publisher, error) {
	if a.config.AMQP.URL == "" {
		return &broker.Log{}, nil
	}

	r, err := broker.NewRabbitMQ(a.config.AMQP.URL, a.config.AMQP.Exchange)
	if err != nil {
		return nil, fmt.Errorf("broker init: %w", err)
	}
	a.closers = append(a.closers, r)

	return r, nil
}

// Start subscribes to inserted pending deposits. Each activation of the
// subscription runs a backfill, so startup recovery happens there too.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(a.logger.WithContext(ctx))

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer cancel()
		<-a.stopCh
	}()
	if a.config.Dispatch.BackfillInterval > 0 {
		a.backfill.Schedule(ctx, a.config.Dispatch.BackfillInterval)
	}
	go func() {
		defer a.wg.Done()
		err := a.feed.SubscribeInserts(ctx, storage.PendingDeposits, a.onInsert, a.backfill.OnActive)
		if err != nil {
			a.logger.Error().Err(err).Msg("Insert feed stopped")
			a.alerts.Alert(ctx, "Insert feed stopped, new deposits are not announced", err)
		}
	}()
}

func (a *App) onInsert(ctx context.Context, tx *model.Transaction) {
	a.dispatcher.Enqueue(tx)
}

// Memory returns the in-memory store when it is the configured driver
func (a *App) Memory() *memory.Store {
	return a.memory
}

func (a *App) Stop() {
	a.once.Do(func() {
		a.logger.Info().Msg("Shutting down application")
		close(a.stopCh)
		a.wg.Wait()
		a.backfill.Stop()
		a.dispatcher.Stop()
		a.close()
	})
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}
