// internal/storage/redis_store.go
package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cmatc13/slotwall/internal/submission"
	"github.com/cmatc13/slotwall/pkg/errors"
)

const (
	// Submission key prefix for per-submission hashes
	submissionKeyPrefix = "submission:"

	// Sorted set of pending submission ids scored by creation time
	pendingIndexKey = "submissions:pending"

	// Sorted set of confirmed submission ids scored by slot number
	confirmedIndexKey = "submissions:confirmed"

	// Key for the singleton counters hash
	countersKey = "slots:counters"
)

// confirmScript performs the whole pending -> confirmed transition as one
// atomic unit: terminal-status guard, capacity check, serialized slot
// allocation via HINCRBY, field writes and value accumulation. Return codes:
// -1 unknown id, -2 capacity exhausted, -3 not pending,
// 0 already confirmed (with existing slot), 1 confirmed (with new slot).
var confirmScript = redis.NewScript(`
	local status = redis.call("HGET", KEYS[1], "status")
	if not status then
		return {-1, 0}
	end
	if status == "confirmed" then
		local slot = tonumber(redis.call("HGET", KEYS[1], "slot_number"))
		return {0, slot}
	end
	if status ~= "pending" then
		return {-3, 0}
	end

	local capacity = tonumber(redis.call("HGET", KEYS[2], "total_capacity") or "0")
	local used = tonumber(redis.call("HGET", KEYS[2], "used_slots") or "0")
	if used >= capacity then
		return {-2, 0}
	end

	local slot = redis.call("HINCRBY", KEYS[2], "used_slots", 1)
	local amount = redis.call("HGET", KEYS[1], "payment_amount") or "0"
	redis.call("HINCRBYFLOAT", KEYS[2], "total_value_collected", amount)
	redis.call("HSET", KEYS[2], "last_updated", ARGV[1])

	redis.call("HSET", KEYS[1],
		"status", "confirmed",
		"confirmed_at", ARGV[1],
		"slot_number", slot)
	if ARGV[2] ~= "" then
		redis.call("HSET", KEYS[1], "transaction_hash", ARGV[2])
	end

	redis.call("ZREM", KEYS[3], ARGV[3])
	redis.call("ZADD", KEYS[4], slot, ARGV[3])
	return {1, slot}
`)

// RedisStore handles the storage and retrieval of submissions and slot
// counters using Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed submission store
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// Ping checks connectivity to Redis
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// CreateSubmission stores a new pending submission and indexes it for
// reconciler scans
func (rs *RedisStore) CreateSubmission(ctx context.Context, sub *submission.Submission) error {
	if err := sub.Validate(); err != nil {
		return errors.Wrap(errors.ErrInvalidInput, err.Error())
	}

	key := submissionKeyPrefix + sub.ID
	exists, err := rs.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check submission existence: %w", err)
	}
	if exists > 0 {
		return errors.WrapWithField(errors.ErrAlreadyExists, "submission_id", sub.ID)
	}

	pipe := rs.client.TxPipeline()
	pipe.HSet(ctx, key, submissionFields(sub))
	if sub.Status == submission.Pending {
		pipe.ZAdd(ctx, pendingIndexKey, &redis.Z{
			Score:  float64(sub.CreatedAt),
			Member: sub.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store submission: %w", err)
	}

	return nil
}

// GetSubmission retrieves a submission by id
func (rs *RedisStore) GetSubmission(ctx context.Context, id string) (*submission.Submission, error) {
	fields, err := rs.client.HGetAll(ctx, submissionKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read submission: %w", err)
	}
	if len(fields) == 0 {
		return nil, errors.WrapWithField(errors.ErrNotFound, "submission_id", id)
	}

	return submissionFromFields(fields)
}

// ListPending returns pending submissions created at or after the given
// time, oldest first
func (rs *RedisStore) ListPending(ctx context.Context, createdAfter time.Time) ([]*submission.Submission, error) {
	ids, err := rs.client.ZRangeByScore(ctx, pendingIndexKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(createdAfter.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending index: %w", err)
	}

	subs := make([]*submission.Submission, 0, len(ids))
	for _, id := range ids {
		sub, err := rs.GetSubmission(ctx, id)
		if err != nil {
			// Index entry without a record; skip rather than abort the scan.
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if sub.Status == submission.Pending {
			subs = append(subs, sub)
		}
	}

	return subs, nil
}

// ListConfirmed returns up to limit confirmed submissions ordered by slot
func (rs *RedisStore) ListConfirmed(ctx context.Context, limit int64) ([]*submission.Submission, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	ids, err := rs.client.ZRange(ctx, confirmedIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan confirmed index: %w", err)
	}

	subs := make([]*submission.Submission, 0, len(ids))
	for _, id := range ids {
		sub, err := rs.GetSubmission(ctx, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, nil
}

// ConfirmSubmission executes the confirm transition atomically via a Lua
// script, so concurrent callers serialize on the Redis side
func (rs *RedisStore) ConfirmSubmission(ctx context.Context, id, txHash string, now time.Time) (ConfirmResult, error) {
	keys := []string{
		submissionKeyPrefix + id,
		countersKey,
		pendingIndexKey,
		confirmedIndexKey,
	}

	res, err := confirmScript.Run(ctx, rs.client, keys,
		now.Unix(), txHash, id).Result()
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("failed to execute confirm transition: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return ConfirmResult{}, fmt.Errorf("unexpected confirm script result: %v", res)
	}
	code, _ := vals[0].(int64)
	slot, _ := vals[1].(int64)

	switch code {
	case 1:
		return ConfirmResult{Outcome: OutcomeConfirmed, SlotNumber: slot}, nil
	case 0:
		return ConfirmResult{Outcome: OutcomeAlreadyConfirmed, SlotNumber: slot}, nil
	case -1:
		return ConfirmResult{}, errors.WrapWithField(errors.ErrNotFound, "submission_id", id)
	case -2:
		return ConfirmResult{Outcome: OutcomeCapacityExhausted}, nil
	case -3:
		return ConfirmResult{Outcome: OutcomeNotPending}, nil
	default:
		return ConfirmResult{}, fmt.Errorf("unexpected confirm script code %d", code)
	}
}

// Counters returns the singleton counters record
func (rs *RedisStore) Counters(ctx context.Context) (*submission.Counters, error) {
	fields, err := rs.client.HGetAll(ctx, countersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}
	if len(fields) == 0 {
		return nil, errors.Wrap(errors.ErrNotFound, "counters not initialized")
	}

	c := &submission.Counters{}
	c.TotalCapacity, _ = strconv.ParseInt(fields["total_capacity"], 10, 64)
	c.UsedSlots, _ = strconv.ParseInt(fields["used_slots"], 10, 64)
	c.TotalValueCollected, _ = strconv.ParseFloat(fields["total_value_collected"], 64)
	c.LastUpdated, _ = strconv.ParseInt(fields["last_updated"], 10, 64)
	return c, nil
}

// InitCounters creates the counters record if absent. The capacity is
// pinned to the configured value on every start; the mutable counters are
// only seeded when missing.
func (rs *RedisStore) InitCounters(ctx context.Context, capacity int64) error {
	pipe := rs.client.TxPipeline()
	pipe.HSet(ctx, countersKey, "total_capacity", capacity)
	pipe.HSetNX(ctx, countersKey, "used_slots", 0)
	pipe.HSetNX(ctx, countersKey, "total_value_collected", 0)
	pipe.HSetNX(ctx, countersKey, "last_updated", time.Now().Unix())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to initialize counters: %w", err)
	}
	return nil
}

func submissionFields(sub *submission.Submission) map[string]interface{} {
	fields := map[string]interface{}{
		"id":              sub.ID,
		"payment_address": sub.PaymentAddress,
		"payment_amount":  sub.PaymentAmount,
		"status":          string(sub.Status),
		"created_at":      sub.CreatedAt,
	}
	if sub.TransactionHash != "" {
		fields["transaction_hash"] = sub.TransactionHash
	}
	if sub.ConfirmedAt != 0 {
		fields["confirmed_at"] = sub.ConfirmedAt
	}
	if sub.SlotNumber != 0 {
		fields["slot_number"] = sub.SlotNumber
	}
	return fields
}

func submissionFromFields(fields map[string]string) (*submission.Submission, error) {
	sub := &submission.Submission{
		ID:              fields["id"],
		PaymentAddress:  fields["payment_address"],
		Status:          submission.Status(fields["status"]),
		TransactionHash: fields["transaction_hash"],
	}

	var err error
	if sub.PaymentAmount, err = strconv.ParseFloat(fields["payment_amount"], 64); err != nil {
		return nil, fmt.Errorf("malformed payment_amount: %w", err)
	}
	if sub.CreatedAt, err = strconv.ParseInt(fields["created_at"], 10, 64); err != nil {
		return nil, fmt.Errorf("malformed created_at: %w", err)
	}
	if v := fields["confirmed_at"]; v != "" {
		if sub.ConfirmedAt, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("malformed confirmed_at: %w", err)
		}
	}
	if v := fields["slot_number"]; v != "" {
		if sub.SlotNumber, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("malformed slot_number: %w", err)
		}
	}

	return sub, nil
}
