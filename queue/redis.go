package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-taskapi/model"

	"github.com/redis/go-redis/v9"
)

const DefaultKey = "taskapi:events"

// Events is a FIFO of task events kept in a Redis list.
type Events struct {
	client *redis.Client
	key    string
}

func NewEvents(client *redis.Client, key string) *Events {
	if key == "" {
		key = DefaultKey
	}
	return &Events{client: client, key: key}
}

// Dial connects to addr and checks the server answers.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func (q *Events) Publish(ctx context.Context, ev model.TaskEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Next blocks up to blockFor for an event. It returns nil, nil on timeout.
func (q *Events) Next(ctx context.Context, blockFor time.Duration) (*model.TaskEvent, error) {
	result, err := q.client.BRPop(ctx, blockFor, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result: %v", result)
	}

	var ev model.TaskEvent
	if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &ev, nil
}

// Len reports how many events are waiting.
func (q *Events) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
