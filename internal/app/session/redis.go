package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/logger"
)

var _ Store = (*Redis)(nil)

const redisKeyPrefix = "depositgate:prompt:"

// Redis keeps prompts in redis so they survive restarts
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func (svc *Redis) LoggerComponent() string {
	return "Session.Redis"
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func redisKey(k Key) string {
	return redisKeyPrefix + k.String()
}

// Put method of session.Store implementation
func (svc *Redis) Put(ctx context.Context, k Key, p *Prompt) error {
	l := logger.Get(ctx, svc)

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("prompt encode: %w", err)
	}

	if err := svc.client.Set(ctx, redisKey(k), data, svc.ttl).Err(); err != nil {
		l.Error().Err(err).Str("key", k.String()).Msg("Put failed")
		return fmt.Errorf("%w: redis set: %v", apperr.ErrStore, err)
	}

	return nil
}

// Take method of session.Store implementation
func (svc *Redis) Take(ctx context.Context, k Key) (*Prompt, error) {
	l := logger.Get(ctx, svc)
	key := redisKey(k)

	var get *redis.StringCmd
	_, err := svc.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		l.Error().Err(err).Str("key", k.String()).Msg("Take failed")
		return nil, fmt.Errorf("%w: redis take: %v", apperr.ErrStore, err)
	}

	data, err := get.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: redis get: %v", apperr.ErrStore, err)
	}

	p := &Prompt{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("prompt decode: %w", err)
	}

	return p, nil
}
