package ratelimit

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestCost(t *testing.T) {
	tests := []struct {
		bytes int64
		want  int64
	}{
		{-1, 1},
		{0, 1},
		{1, 2},
		{CostUnit, 2},
		{CostUnit + 1, 3},
		{10 * CostUnit, 11},
	}
	for _, tc := range tests {
		if got := Cost(tc.bytes); got != tc.want {
			t.Fatalf("Cost(%d): expected %d, got %d", tc.bytes, tc.want, got)
		}
	}
}

func TestNewRedisTokenBucketValidates(t *testing.T) {
	if _, err := NewRedisTokenBucket(nil, 10, time.Minute, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestNewRedisTokenBucketDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	bucket, err := NewRedisTokenBucket(client, 60, time.Minute, " ")
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if bucket.perMS != 0.001 {
		t.Fatalf("expected refill 0.001 tokens/ms, got %v", bucket.perMS)
	}
	if got := bucket.key(""); got != "convertflow:ratelimit:anonymous" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := bucket.key(" user-1:/v1/convert "); got != "convertflow:ratelimit:user-1:/v1/convert" {
		t.Fatalf("unexpected key %q", got)
	}

	for _, tc := range []struct {
		capacity int
		window   time.Duration
	}{{0, time.Minute}, {10, 0}} {
		if _, err := NewRedisTokenBucket(client, tc.capacity, tc.window, ""); err == nil {
			t.Fatalf("expected error for capacity=%d window=%s", tc.capacity, tc.window)
		}
	}
}
