package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan StateChangedEvent, 1)

	unsub := bus.Subscribe(func(e StateChangedEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(StateChangedEvent{DevicePath: "/dev/video0", From: "configured", To: "streaming"})

	select {
	case got := <-received:
		if got.DevicePath != "/dev/video0" || got.To != "streaming" {
			t.Errorf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CaptureErrorEvent, 1)

	unsub := bus.Subscribe(func(e CaptureErrorEvent) {
		received <- e
	})

	bus.Publish(CaptureErrorEvent{DevicePath: "/dev/video0"})
	<-received

	unsub()

	bus.Publish(CaptureErrorEvent{DevicePath: "/dev/video1"})
	select {
	case <-received:
		t.Fatal("received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()
	stats := make(chan bool, 1)
	errs := make(chan bool, 1)

	defer bus.Subscribe(func(_ FrameStatsEvent) { stats <- true })()
	defer bus.Subscribe(func(_ CaptureErrorEvent) { errs <- true })()

	bus.Publish(FrameStatsEvent{Frames: 1})
	<-stats

	select {
	case <-errs:
		t.Fatal("error subscriber received a stats event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := New()
	const publishers, perPublisher = 8, 50

	var mu sync.Mutex
	count := 0
	done := make(chan struct{})
	unsub := bus.Subscribe(func(_ DeviceHotplugEvent) {
		mu.Lock()
		count++
		if count == publishers*perPublisher {
			close(done)
		}
		mu.Unlock()
	})
	defer unsub()

	var wg sync.WaitGroup
	for range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perPublisher {
				bus.Publish(DeviceHotplugEvent{DevicePath: "/dev/video0", Action: "add"})
			}
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("expected %d events, got %d", publishers*perPublisher, count)
	}
}

func TestSubscribeToChannelDropsWhenFull(t *testing.T) {
	bus := New()
	ch := make(chan any, 1)
	unsub := SubscribeToChannel[FrameStatsEvent](bus, ch)
	defer unsub()

	bus.Publish(FrameStatsEvent{Frames: 1})
	deadline := time.After(time.Second)
	for len(ch) == 0 {
		select {
		case <-deadline:
			t.Fatal("event not forwarded")
		case <-time.After(time.Millisecond):
		}
	}
	bus.Publish(FrameStatsEvent{Frames: 2})
	time.Sleep(20 * time.Millisecond)

	got := (<-ch).(FrameStatsEvent)
	if got.Frames != 1 {
		t.Errorf("expected first event kept, got frames=%d", got.Frames)
	}
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(CaptureErrorEvent{
		DevicePath: "/dev/video0",
		Kind:       "IO_ERROR",
		Step:       "dequeue",
		Error:      "input/output error",
	})
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"device_path", "kind", "step", "error", "session_id", "timestamp"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing JSON key %q", key)
		}
	}
}
