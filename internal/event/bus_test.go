package event

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/relayscan/pkg/plugin"
	"go.uber.org/zap"
)

func TestPublish_RoutesByTopic(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got []string
	bus.Subscribe("recon.scan.started", func(_ context.Context, e plugin.Event) {
		got = append(got, "topic:"+e.Topic)
	})
	bus.SubscribeAll(func(_ context.Context, e plugin.Event) {
		got = append(got, "all:"+e.Topic)
	})

	ctx := context.Background()
	_ = bus.Publish(ctx, plugin.Event{Topic: "recon.scan.started"})
	_ = bus.Publish(ctx, plugin.Event{Topic: "control.action.failed"})

	want := "topic:recon.scan.started,all:recon.scan.started,all:control.action.failed"
	if strings.Join(got, ",") != want {
		t.Errorf("calls = %v, want %s", got, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var n atomic.Int32
	inc := func(context.Context, plugin.Event) { n.Add(1) }

	unsubA := bus.Subscribe("recon.device.deleted", inc)
	bus.Subscribe("recon.device.deleted", inc)
	unsubAll := bus.SubscribeAll(inc)

	unsubA()
	unsubAll()
	unsubA()
	_ = bus.Publish(context.Background(), plugin.Event{Topic: "recon.device.deleted"})

	if got := n.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1", got)
	}
}

func TestPublish_RecoversPanics(t *testing.T) {
	bus := NewBus(zap.NewNop())
	called := false
	bus.Subscribe("vault.status.changed", func(context.Context, plugin.Event) { panic("boom") })
	bus.Subscribe("vault.status.changed", func(context.Context, plugin.Event) { called = true })

	if err := bus.Publish(context.Background(), plugin.Event{Topic: "vault.status.changed"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !called {
		t.Error("handler after a panicking one was not called")
	}
}

func TestPublishAsync_DetachedAndWaitable(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var mu sync.Mutex
	var ctxErrs []error
	for i := 0; i < 3; i++ {
		bus.SubscribeAll(func(ctx context.Context, _ plugin.Event) {
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			ctxErrs = append(ctxErrs, ctx.Err())
			mu.Unlock()
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus.PublishAsync(ctx, plugin.Event{Topic: "control.action.performed"})
	cancel()

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	if err := bus.Wait(wctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ctxErrs) != 3 {
		t.Fatalf("handlers run = %d, want 3", len(ctxErrs))
	}
	for _, err := range ctxErrs {
		if err != nil {
			t.Errorf("handler ctx.Err() = %v, want nil", err)
		}
	}
}

func TestWait_HonoursDeadline(t *testing.T) {
	bus := NewBus(zap.NewNop())
	release := make(chan struct{})
	defer close(release)
	bus.SubscribeAll(func(context.Context, plugin.Event) { <-release })
	bus.PublishAsync(context.Background(), plugin.Event{Topic: "recon.scan.state"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := bus.Wait(ctx); err == nil {
		t.Error("Wait() returned nil with a handler still running")
	}
}
