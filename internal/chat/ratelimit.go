package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/borrowbox/borrowbox/internal/cache"
	"github.com/borrowbox/borrowbox/internal/config"
	"github.com/borrowbox/borrowbox/internal/monitoring"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter implements sliding window rate limiting of chat sends using
// Redis
type RateLimiter struct {
	redis  *cache.Redis
	config *config.RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *cache.Redis, cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{redis: redis, config: cfg}
}

// Check checks whether the sender may persist another message, recording
// the attempt if allowed. Uses a sliding window over a Redis sorted set.
func (r *RateLimiter) Check(ctx context.Context, userID string) (*RateLimitResult, error) {
	limit := r.config.ChatMessageLimit
	windowSeconds := r.config.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	now := time.Now()
	windowDuration := time.Duration(windowSeconds) * time.Second
	windowStart := now.Add(-windowDuration)

	key := fmt.Sprintf("ratelimit:chat:%s", userID)

	// Score = timestamp, member = unique send id
	pipe := r.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to check chat rate limit")
		// On Redis error, allow the send (fail open)
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int64(limit),
			Limit:     limit,
		}, nil
	}

	currentCount := countCmd.Val()

	result := &RateLimitResult{
		Limit:   limit,
		ResetAt: now.Add(windowDuration),
	}

	if currentCount >= int64(limit) {
		result.Allowed = false
		result.Remaining = 0
		monitoring.RecordRateLimitHit("chat")

		oldest, err := r.redis.Client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestTime := time.Unix(0, int64(oldest[0].Score))
			result.RetryAfter = oldestTime.Add(windowDuration).Sub(now)
			if result.RetryAfter < 0 {
				result.RetryAfter = time.Second
			}
		} else {
			result.RetryAfter = windowDuration
		}

		return result, nil
	}

	sendID := fmt.Sprintf("%d-%s", now.UnixNano(), userID)
	err := r.redis.Client.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: sendID,
	}).Err()
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to record chat rate limit entry")
	}

	r.redis.Client.Expire(ctx, key, windowDuration*2)

	result.Allowed = true
	result.Remaining = int64(limit) - currentCount - 1
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	return result, nil
}

// Reset clears the rate limit state for a user
func (r *RateLimiter) Reset(ctx context.Context, userID string) error {
	key := fmt.Sprintf("ratelimit:chat:%s", userID)
	return r.redis.Client.Del(ctx, key).Err()
}
