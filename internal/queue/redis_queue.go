// Package queue implements the durable job substrate on Redis sorted sets.
// A job's score is the unix time it becomes ready; delayed retries are plain
// re-adds with a future score.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrEmpty = errors.New("queue empty")

// DispatchQueue is the single queue the evaluator feeds and the router
// consumes. Delivery queues are per channel type, see DeliveryQueue.
const DispatchQueue = "incident_dispatch"

// DeliveryQueue names the queue a delivery job is routed to, keyed by channel
// type so each sender pool only sees its own work.
func DeliveryQueue(channelType string) string {
	return "deliveries:" + channelType
}

type Job struct {
	ID          string    `json:"id"`
	IncidentID  string    `json:"incident_id"`
	ChannelID   string    `json:"channel_id,omitempty"`
	ChannelType string    `json:"channel_type,omitempty"`
	Action      string    `json:"action"`
	Attempt     int       `json:"attempt"`
	CreatedAt   time.Time `json:"created_at"`
}

type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Push enqueues a job that becomes ready after the given delay (zero for
// immediately).
func (q *RedisQueue) Push(ctx context.Context, queueName string, job *Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.client.ZAdd(ctx, queueName, redis.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: data,
	}).Err()

	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}

	return nil
}

// Pop claims the oldest ready job, or returns ErrEmpty when nothing is ready.
// The ZRem acts as the claim: under concurrent consumers only the one that
// removes the member wins it.
func (q *RedisQueue) Pop(ctx context.Context, queueName string) (*Job, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())

	members, err := q.client.ZRangeByScore(ctx, queueName, &redis.ZRangeBy{
		Min:   "0",
		Max:   now,
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrEmpty
	}

	removed, err := q.client.ZRem(ctx, queueName, members[0]).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if removed == 0 {
		// Another consumer got there first.
		return nil, ErrEmpty
	}

	var job Job
	if err := json.Unmarshal([]byte(members[0]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *RedisQueue) Length(ctx context.Context, queueName string) (int64, error) {
	return q.client.ZCard(ctx, queueName).Result()
}
