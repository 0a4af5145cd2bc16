package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-training/ssoflow/pkg/core"

	"github.com/redis/rueidis"
)

// RedisStore implements core.CorrelationStore using Redis via rueidis.
// Every key carries the session TTL so abandoned attempts expire on their own.
type RedisStore struct {
	client    rueidis.Client
	namespace string
	ttl       time.Duration
	owner     bool
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore creates a new RedisStore with the provided rueidis client.
// A non-positive ttl selects DefaultSessionTTL.
func NewRedisStore(client rueidis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{
		client:    client,
		namespace: sessionNamespace(defaultSessionID),
		ttl:       ttl,
		owner:     true,
	}
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions, ttl time.Duration) (*RedisStore, error) {
	return NewRedisStoreFromClientOption(rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}, ttl)
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption, ttl time.Duration) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

// Close closes the Redis client connection. Session views do not own the client.
func (r *RedisStore) Close() {
	if r.owner {
		r.client.Close()
	}
}

// Session returns a view of the store scoped to sessionID.
func (r *RedisStore) Session(sessionID string) core.CorrelationStore {
	return &RedisStore{
		client:    r.client,
		namespace: sessionNamespace(sessionID),
		ttl:       r.ttl,
	}
}

func (r *RedisStore) key(name string) string {
	return r.namespace + name
}

// SetCurrent stores the redirect context as the current in-flight attempt.
func (r *RedisStore) SetCurrent(ctx context.Context, redirectCtx *core.RedirectContext) error {
	if redirectCtx == nil {
		return ErrNilRedirectContext
	}
	if redirectCtx.CorrelationToken == "" {
		return ErrEmptyCorrelationToken
	}

	data, err := json.Marshal(redirectCtx)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect context: %w", err)
	}
	if err := r.set(ctx, r.key(core.CurrentRedirectKey), data); err != nil {
		return fmt.Errorf("failed to save redirect context to redis: %w", err)
	}
	return nil
}

// GetCurrent returns the current redirect context, or core.ErrNotFound.
func (r *RedisStore) GetCurrent(ctx context.Context) (*core.RedirectContext, error) {
	var redirectCtx core.RedirectContext
	if err := r.load(ctx, r.key(core.CurrentRedirectKey), &redirectCtx); err != nil {
		return nil, err
	}
	return &redirectCtx, nil
}

// ClearCurrent removes the current redirect context and the payload of its correlation token.
func (r *RedisStore) ClearCurrent(ctx context.Context) error {
	current, err := r.GetCurrent(ctx)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}

	keys := []string{r.key(core.CurrentRedirectKey)}
	if current != nil && current.CorrelationToken != "" {
		keys = append(keys, r.key(core.PendingResultKey(current.CorrelationToken)))
	}
	cmd := r.client.B().Del().Key(keys...).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to clear redirect context from redis: %w", err)
	}
	return nil
}

// SetPayload stores the pending result for the given correlation token.
func (r *RedisStore) SetPayload(ctx context.Context, correlationToken string, result *core.PendingResult) error {
	if correlationToken == "" {
		return ErrEmptyCorrelationToken
	}
	if result == nil {
		return ErrNilPendingResult
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal pending result: %w", err)
	}
	if err := r.set(ctx, r.key(core.PendingResultKey(correlationToken)), data); err != nil {
		return fmt.Errorf("failed to save pending result to redis: %w", err)
	}
	return nil
}

// GetPayload returns the pending result for the given correlation token, or core.ErrNotFound.
func (r *RedisStore) GetPayload(ctx context.Context, correlationToken string) (*core.PendingResult, error) {
	if correlationToken == "" {
		return nil, ErrEmptyCorrelationToken
	}
	var result core.PendingResult
	if err := r.load(ctx, r.key(core.PendingResultKey(correlationToken)), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClearPayload removes the pending result for the given correlation token.
func (r *RedisStore) ClearPayload(ctx context.Context, correlationToken string) error {
	if correlationToken == "" {
		return ErrEmptyCorrelationToken
	}
	cmd := r.client.B().Del().Key(r.key(core.PendingResultKey(correlationToken))).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete pending result from redis: %w", err)
	}
	return nil
}

func (r *RedisStore) set(ctx context.Context, key string, data []byte) error {
	cmd := r.client.B().Set().Key(key).Value(string(data)).PxMilliseconds(expiryMillis(r.ttl)).Build()
	return r.client.Do(ctx, cmd).Error()
}

// expiryMillis converts ttl to the PX argument, rounding up so sub-millisecond
// remainders never shorten the lifetime and the result is never zero.
func expiryMillis(ttl time.Duration) int64 {
	ms := int64((ttl + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		return 1
	}
	return ms
}

// load reads without client-side caching: the landing page writes payloads
// from another request and the resolver must observe them immediately.
func (r *RedisStore) load(ctx context.Context, key string, v any) error {
	cmd := r.client.B().Get().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return core.ErrNotFound
		}
		return fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	if err := json.Unmarshal([]byte(result), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
