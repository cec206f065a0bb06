package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastResultKeyPrefix = "miszen:command:last:"

// ResultRedisRepo caches the latest result of every command. A nil repo is a
// no-op so the service runs without Redis.
type ResultRedisRepo struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultRedisRepo connects to redisURL (redis://host:port/db) and pings it.
func NewResultRedisRepo(redisURL string, ttl time.Duration) (*ResultRedisRepo, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewResultRedisRepoFromClient(rdb, ttl), nil
}

func NewResultRedisRepoFromClient(client *redis.Client, ttl time.Duration) *ResultRedisRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultRedisRepo{client: client, ttl: ttl}
}

func lastResultKey(command string) string {
	return lastResultKeyPrefix + command
}

// SaveLast overwrites the cached result for data.Command.
func (r *ResultRedisRepo) SaveLast(ctx context.Context, data *StoredResult) error {
	if r == nil || r.client == nil {
		return nil
	}
	key := lastResultKey(data.Command)

	fields := map[string]any{
		"event_id":          data.EventID,
		"command":           data.Command,
		"success":           strconv.FormatBool(data.Success),
		"result":            data.Result,
		"error":             data.Error,
		"execution_time_ms": data.ExecutionTime.Milliseconds(),
		"executed_at":       data.ExecutedAt.Format(time.RFC3339Nano),
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache result for %s: %w", data.Command, err)
	}
	return nil
}

// GetLast returns nil, nil when nothing is cached for command.
func (r *ResultRedisRepo) GetLast(ctx context.Context, command string) (*StoredResult, error) {
	if r == nil || r.client == nil {
		return nil, nil
	}

	fields, err := r.client.HGetAll(ctx, lastResultKey(command)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseResultFields(command, fields), nil
}

func parseResultFields(command string, fields map[string]string) *StoredResult {
	data := &StoredResult{
		EventID: fields["event_id"],
		Command: command,
		Result:  fields["result"],
		Error:   fields["error"],
	}
	data.Success, _ = strconv.ParseBool(fields["success"])
	if ms, err := strconv.ParseInt(fields["execution_time_ms"], 10, 64); err == nil {
		data.ExecutionTime = time.Duration(ms) * time.Millisecond
	}
	if ts, ok := fields["executed_at"]; ok {
		data.ExecutedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return data
}

func (r *ResultRedisRepo) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
