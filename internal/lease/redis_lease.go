package lease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
	local current = redis.call("get", KEYS[1])
	if not current then
		redis.call("set", KEYS[1], ARGV[1], "PX", ARGV[2])
		return ARGV[1]
	end
	if current == ARGV[1] then
		redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return current
`)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisManager stores leases as Redis keys holding the campaign ID
type RedisManager struct {
	client *redis.Client
	prefix string
}

// NewRedisManager creates a Redis-backed lease manager
func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client, prefix: "lease:device:"}
}

func (m *RedisManager) key(deviceID int64) string {
	return m.prefix + strconv.FormatInt(deviceID, 10)
}

// Acquire leases every device to the campaign
func (m *RedisManager) Acquire(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error {
	return acquireAll(ctx, m, deviceIDs, campaignID, func(ctx context.Context, deviceID int64) (int64, error) {
		return m.acquireOne(ctx, deviceID, campaignID, ttl)
	})
}

// Extend renews the campaign's leases, re-taking expired ones
func (m *RedisManager) Extend(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error {
	return extendAll(ctx, deviceIDs, campaignID, func(ctx context.Context, deviceID int64) (int64, error) {
		return m.acquireOne(ctx, deviceID, campaignID, ttl)
	})
}

func (m *RedisManager) acquireOne(ctx context.Context, deviceID, campaignID int64, ttl time.Duration) (int64, error) {
	owner := strconv.FormatInt(campaignID, 10)
	holder, err := acquireScript.Run(ctx, m.client, []string{m.key(deviceID)}, owner, ttl.Milliseconds()).Text()
	if err != nil {
		return 0, fmt.Errorf("failed to acquire lease for device %d: %w", deviceID, err)
	}
	holderID, err := strconv.ParseInt(holder, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lease holder %q: %w", holder, err)
	}
	return holderID, nil
}

// Release drops the leases the campaign holds
func (m *RedisManager) Release(ctx context.Context, deviceIDs []int64, campaignID int64) error {
	owner := strconv.FormatInt(campaignID, 10)
	for _, deviceID := range deviceIDs {
		if err := releaseScript.Run(ctx, m.client, []string{m.key(deviceID)}, owner).Err(); err != nil {
			return fmt.Errorf("failed to release lease for device %d: %w", deviceID, err)
		}
	}
	return nil
}
