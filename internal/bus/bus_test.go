package bus

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ricesearch/rice-eval/internal/config"
)

func waitGroup(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for events")
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	err := bus.Subscribe(context.Background(), TopicQueryCompleted, func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		event := NewEvent(TopicQueryCompleted, "test", "run-1", QueryCompleted{RunID: "run-1", Index: i})
		if err := bus.Publish(context.Background(), TopicQueryCompleted, event); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	waitGroup(t, &wg, time.Second)

	if got := received.Load(); got != 3 {
		t.Errorf("Received %d events, want 3", got)
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var count1, count2 atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), TopicRunCompleted, func(ctx context.Context, event Event) error {
		count1.Add(1)
		wg.Done()
		return nil
	})
	bus.Subscribe(context.Background(), TopicRunCompleted, func(ctx context.Context, event Event) error {
		count2.Add(1)
		wg.Done()
		return errors.New("handler errors are logged, not returned")
	})

	wg.Add(2)
	if err := bus.Publish(context.Background(), TopicRunCompleted, Event{ID: "test", Type: "test"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitGroup(t, &wg, time.Second)

	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("Expected both subscribers to receive 1 event, got %d and %d", count1.Load(), count2.Load())
	}
}

func TestMemoryBus_HandlerOutlivesPublisherContext(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var wg sync.WaitGroup
	var handlerErr atomic.Value
	wg.Add(1)
	bus.Subscribe(context.Background(), TopicRunStarted, func(ctx context.Context, event Event) error {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			handlerErr.Store(err)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, TopicRunStarted, Event{ID: "e"})
	cancel()

	waitGroup(t, &wg, time.Second)
	if v := handlerErr.Load(); v != nil {
		t.Errorf("handler context cancelled with publisher: %v", v)
	}
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	err := bus.Publish(context.Background(), "empty.topic", Event{ID: "test", Type: "test"})
	if err != nil {
		t.Errorf("Publish() to empty topic error = %v", err)
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(nil)

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	err := bus.Publish(context.Background(), "test", Event{})
	if err == nil {
		t.Error("Publish() after Close() should error")
	}

	err = bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if err == nil {
		t.Error("Subscribe() after Close() should error")
	}
}

func TestMemoryBus_Concurrent(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), "concurrent", func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	numPublishers := 10
	eventsPerPublisher := 100
	wg.Add(numPublishers * eventsPerPublisher)

	for p := 0; p < numPublishers; p++ {
		go func() {
			for i := 0; i < eventsPerPublisher; i++ {
				bus.Publish(context.Background(), "concurrent", Event{ID: "test", Type: "test"})
			}
		}()
	}

	waitGroup(t, &wg, 5*time.Second)

	expected := int32(numPublishers * eventsPerPublisher)
	if got := received.Load(); got != expected {
		t.Errorf("Received %d events, want %d", got, expected)
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now().UnixMilli()
	e := NewEvent(TopicRunStarted, "evaluation", "run-9", RunStarted{RunID: "run-9"})

	if e.ID == "" {
		t.Error("NewEvent() ID is empty")
	}
	if e.Type != TopicRunStarted || e.Source != "evaluation" || e.CorrelationID != "run-9" {
		t.Errorf("NewEvent() = %+v", e)
	}
	if e.Timestamp < before {
		t.Errorf("Timestamp = %d, want >= %d", e.Timestamp, before)
	}
	if other := NewEvent(TopicRunStarted, "evaluation", "", nil); other.ID == e.ID {
		t.Error("NewEvent() ids should be unique")
	}
}

func TestNewBus(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BusConfig
		wantErr bool
	}{
		{"memory", config.BusConfig{Type: "memory"}, false},
		{"empty defaults to memory", config.BusConfig{}, false},
		{"kafka without brokers", config.BusConfig{Type: "kafka"}, true},
		{"unknown", config.BusConfig{Type: "nats"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBus(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if b != nil {
				b.Close()
			}
		})
	}
}

type recordedPublish struct {
	topic string
	err   error
}

type fakeRecorder struct {
	mu      sync.Mutex
	calls   []recordedPublish
	handled []recordedPublish
}

func (r *fakeRecorder) RecordBusPublish(topic string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedPublish{topic: topic, err: err})
}

func (r *fakeRecorder) RecordBusHandled(topic string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = append(r.handled, recordedPublish{topic: topic, err: err})
}

func TestInstrumentedBus(t *testing.T) {
	inner := NewMemoryBus(nil)
	rec := &fakeRecorder{}
	b := NewInstrumentedBus(inner, rec)

	if err := b.Publish(context.Background(), TopicRunStarted, Event{ID: "1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	b.Close()
	if err := b.Publish(context.Background(), TopicRunCompleted, Event{ID: "2"}); err == nil {
		t.Fatal("Publish() after Close() should error")
	}

	if len(rec.calls) != 2 {
		t.Fatalf("recorded %d publishes, want 2", len(rec.calls))
	}
	if rec.calls[0].topic != TopicRunStarted || rec.calls[0].err != nil {
		t.Errorf("first publish = %+v", rec.calls[0])
	}
	if rec.calls[1].err == nil {
		t.Error("second publish should record the error")
	}
}

func TestInstrumentedBus_Handlers(t *testing.T) {
	inner := NewMemoryBus(nil)
	rec := &fakeRecorder{}
	b := NewInstrumentedBus(inner, rec)
	ctx := context.Background()

	boom := errors.New("boom")
	if err := b.Subscribe(ctx, TopicQueryCompleted, func(context.Context, Event) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := b.Subscribe(ctx, TopicQueryCompleted, func(context.Context, Event) error { return boom }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.Publish(ctx, TopicQueryCompleted, Event{ID: "1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	// Close waits for in-flight handlers.
	b.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.handled) != 2 {
		t.Fatalf("recorded %d handler calls, want 2", len(rec.handled))
	}
	failed := 0
	for _, h := range rec.handled {
		if h.topic != TopicQueryCompleted {
			t.Errorf("topic = %s, want %s", h.topic, TopicQueryCompleted)
		}
		if errors.Is(h.err, boom) {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed handler calls = %d, want 1", failed)
	}
}

func TestJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "run.jsonl")
	journal, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}

	b := NewJournaledBus(NewMemoryBus(nil), journal, nil)
	since := time.Now().Add(-time.Second)

	for i := 0; i < 3; i++ {
		event := NewEvent(TopicQueryCompleted, "test", "run-1", QueryCompleted{RunID: "run-1", Index: i})
		if err := b.Publish(context.Background(), TopicQueryCompleted, event); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	entries, err := journal.Entries(since, 0)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(Entries()) = %d, want 3", len(entries))
	}
	if entries[0].Topic != TopicQueryCompleted {
		t.Errorf("Topic = %s, want %s", entries[0].Topic, TopicQueryCompleted)
	}
	if entries[2].Event.CorrelationID != "run-1" {
		t.Errorf("CorrelationID = %s, want run-1", entries[2].Event.CorrelationID)
	}

	limited, err := journal.Entries(since, 2)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len(Entries(limit=2)) = %d, want 2", len(limited))
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := journal.Append(TopicRunCompleted, Event{}); err == nil {
		t.Error("Append() after Close() should error")
	}

	// The file stays readable after the journal is closed.
	entries, err = ReadJournal(path, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("len(ReadJournal()) = %d, want 3", len(entries))
	}
}

func TestRunEntries(t *testing.T) {
	entries := []JournalEntry{
		{Topic: TopicRunStarted, Event: Event{ID: "1", CorrelationID: "run-a"}},
		{Topic: TopicRunStarted, Event: Event{ID: "2", CorrelationID: "run-b"}},
		{Topic: TopicQueryCompleted, Event: Event{ID: "3", CorrelationID: "run-a"}},
		{Topic: TopicDatasetGenerated, Event: Event{ID: "4"}},
	}

	tests := []struct {
		runID string
		want  []string
	}{
		{"run-a", []string{"1", "3"}},
		{"run-b", []string{"2"}},
		{"run-c", []string{}},
	}
	for _, tt := range tests {
		got := RunEntries(entries, tt.runID)
		ids := make([]string, 0, len(got))
		for _, e := range got {
			ids = append(ids, e.Event.ID)
		}
		if !reflect.DeepEqual(ids, tt.want) {
			t.Errorf("RunEntries(%s) = %v, want %v", tt.runID, ids, tt.want)
		}
	}
}

func TestReadJournal_Missing(t *testing.T) {
	entries, err := ReadJournal(filepath.Join(t.TempDir(), "none.jsonl"), time.Time{}, 0)
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(ReadJournal()) = %d, want 0", len(entries))
	}
}
