// Package review keeps a Redis list of failed job ids for an operator to inspect.
package review

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// List is an append-only review list.
type List struct {
	client redis.Cmdable
	key    string
}

func New(client redis.Cmdable, key string) *List {
	if key == "" {
		key = "review:failed"
	}
	return &List{client: client, key: key}
}

// Push appends a failed job id.
func (l *List) Push(ctx context.Context, jobID string) error {
	if err := l.client.RPush(ctx, l.key, jobID).Err(); err != nil {
		return fmt.Errorf("push %s to %s: %w", jobID, l.key, err)
	}
	return nil
}

// Peek returns up to n ids, oldest first.
func (l *List) Peek(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := l.client.LRange(ctx, l.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", l.key, err)
	}
	return ids, nil
}

func (l *List) Len(ctx context.Context) (int64, error) {
	return l.client.LLen(ctx, l.key).Result()
}
