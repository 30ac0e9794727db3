package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/hci"
)

// fakeCounter keeps hashes in memory
type fakeCounter struct {
	hashes  map[string]map[string]int64
	ttls    map[string]time.Duration
	failErr error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{
		hashes: make(map[string]map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeCounter) HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "hincrby", key, field, incr)
	if f.failErr != nil {
		cmd.SetErr(f.failErr)
		return cmd
	}
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]int64)
		f.hashes[key] = h
	}
	h[field] += incr
	cmd.SetVal(h[field])
	return cmd
}

func (f *fakeCounter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx, "expire", key, expiration)
	f.ttls[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func TestRedisRecorder_Counts(t *testing.T) {
	client := newFakeCounter()
	r := NewRedisRecorder(client, DefaultRedisRecorderConfig(), nil)

	r.OnFrame(channel.Frame{Channel: "hci0", Type: hci.PacketEvent, Data: make([]byte, 4)})
	r.OnFrame(channel.Frame{Channel: "hci0", Type: hci.PacketEvent, Data: make([]byte, 6)})
	r.OnFrame(channel.Frame{Channel: "hci0", Type: hci.PacketACL, Data: make([]byte, 9)})

	h := client.hashes["h4:frames:hci0"]
	if h == nil {
		t.Fatalf("hash h4:frames:hci0 not written")
	}
	if h["event"] != 2 {
		t.Errorf("event = %d, want 2", h["event"])
	}
	if h["acl"] != 1 {
		t.Errorf("acl = %d, want 1", h["acl"])
	}
	if h["bytes"] != 19 {
		t.Errorf("bytes = %d, want 19", h["bytes"])
	}
	if got := client.ttls["h4:frames:hci0"]; got != 24*time.Hour {
		t.Errorf("ttl = %v, want %v", got, 24*time.Hour)
	}
}

func TestRedisRecorder_Failures(t *testing.T) {
	client := newFakeCounter()
	client.failErr = errors.New("redis: connection refused")
	r := NewRedisRecorder(client, RedisRecorderConfig{KeyPrefix: "lab"}, nil)

	r.OnFrame(channel.Frame{Channel: "hci0", Type: hci.PacketEvent})

	if r.GetFailures() != 1 {
		t.Errorf("GetFailures() = %d, want 1", r.GetFailures())
	}
	if got := r.Key("hci0"); got != "lab:hci0" {
		t.Errorf("Key() = %q, want %q", got, "lab:hci0")
	}
	if len(client.ttls) != 0 {
		t.Errorf("Expire called after failure")
	}
}
