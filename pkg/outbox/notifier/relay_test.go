package notifier

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/redis"
)

func TestRedisRelayWakesRemoteNotifier(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.FromRaw(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := client.ChannelName("outbox:notify")
	remote := New()
	subscriber, err := NewRedisRelay(client, channel, remote, logg)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	go subscriber.RunSubscriber(ctx)

	// the subscriber self-notifies once it is subscribed
	if wake, err := remote.WaitForSignal(ctx, 2*time.Second); err != nil || wake != WakeSignal {
		t.Fatalf("expected initial wake after subscribe, got %v %v", wake, err)
	}

	writer, err := NewRedisRelay(client, channel, nil, logg)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	go writer.RunForwarder(ctx)
	writer.Notify()

	if wake, err := remote.WaitForSignal(ctx, 2*time.Second); err != nil || wake != WakeSignal {
		t.Fatalf("expected relayed wake, got %v %v", wake, err)
	}
}

func TestRedisRelayNotifyNeverBlocks(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.FromRaw(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	relay, err := NewRedisRelay(client, "c", nil, logg)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			relay.Notify()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked without a forwarder running")
	}
}

func TestNewRedisRelayValidates(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	if _, err := NewRedisRelay(nil, "c", nil, logg); err == nil {
		t.Fatal("expected error for nil client")
	}
	client := redis.FromRaw(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}))
	if _, err := NewRedisRelay(client, "", nil, logg); err == nil {
		t.Fatal("expected error for empty channel")
	}
}
