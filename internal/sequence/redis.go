package sequence

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "nfe:seq:"

// nextScript increments the counter and refuses to pass the schema limit
const nextScript = `
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if cur >= tonumber(ARGV[1]) then
  return -1
end
return redis.call("INCR", KEYS[1])
`

// seedScript raises the counter, never lowers it
const seedScript = `
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if cur < floor then
  redis.call("SET", KEYS[1], floor)
  return floor
end
return cur
`

// Redis allocates numbers with an atomic server-side script
type Redis struct {
	client *redis.Client
	next   *redis.Script
	seed   *redis.Script
}

// NewRedis creates the allocator
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		next:   redis.NewScript(nextScript),
		seed:   redis.NewScript(seedScript),
	}
}

// NewRedisClient parses a redis:// URL and pings the server
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}
	return client, nil
}

func redisKey(key Key) string {
	return keyPrefix + key.String()
}

// Seed raises the highest used number of a key
func (r *Redis) Seed(ctx context.Context, key Key, last int64) error {
	if err := r.seed.Run(ctx, r.client, []string{redisKey(key)}, last).Err(); err != nil {
		return fmt.Errorf("failed to seed sequence %s: %w", key, err)
	}
	return nil
}

// Next implements Allocator
func (r *Redis) Next(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	n, err := r.next.Run(ctx, r.client, []string{redisKey(key)}, MaxNumber).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate from sequence %s: %w", key, err)
	}
	if n < 0 {
		return 0, exhausted(key)
	}
	return n, nil
}
