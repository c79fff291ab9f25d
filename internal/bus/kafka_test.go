package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

func TestKafkaConfig_Defaults(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
			},
		},
		{
			name: "empty brokers",
			cfg: KafkaConfig{
				Brokers:       []string{},
				ConsumerGroup: "test-group",
			},
			wantErr: true,
		},
		{
			name: "empty consumer group",
			cfg: KafkaConfig{
				Brokers: []string{"localhost:9092"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.setDefaults()
			if (err != nil) != tt.wantErr {
				t.Fatalf("setDefaults() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if cfg.ClientID != "rice-eval-bus" {
				t.Errorf("ClientID = %s, want rice-eval-bus", cfg.ClientID)
			}
			if cfg.Version != "2.8.0" {
				t.Errorf("Version = %s, want 2.8.0", cfg.Version)
			}
			if cfg.Timeout == 0 {
				t.Error("Timeout default not applied")
			}
		})
	}
}

func TestSaramaConfig(t *testing.T) {
	cfg := KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g"}
	if err := cfg.setDefaults(); err != nil {
		t.Fatalf("setDefaults() error = %v", err)
	}

	sc, err := saramaConfig(cfg)
	if err != nil {
		t.Fatalf("saramaConfig() error = %v", err)
	}
	if !sc.Producer.Return.Successes {
		t.Error("sync producer requires Return.Successes")
	}
	if sc.Producer.RequiredAcks != sarama.WaitForAll {
		t.Errorf("RequiredAcks = %v, want WaitForAll", sc.Producer.RequiredAcks)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("sarama config invalid: %v", err)
	}

	cfg.Version = "invalid"
	if _, err := saramaConfig(cfg); err == nil {
		t.Error("saramaConfig() with invalid version should fail")
	}
}

func TestParseKafkaBrokers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single broker",
			input: "localhost:9092",
			want:  []string{"localhost:9092"},
		},
		{
			name:  "multiple brokers",
			input: "broker1:9092,broker2:9092,broker3:9092",
			want:  []string{"broker1:9092", "broker2:9092", "broker3:9092"},
		},
		{
			name:  "with whitespace and empty entries",
			input: "broker1:9092 , , broker2:9092 ",
			want:  []string{"broker1:9092", "broker2:9092"},
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseKafkaBrokers(tt.input)
			if len(got) != len(tt.want) {
				t.Errorf("ParseKafkaBrokers() = %v, want %v", got, tt.want)
				return
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseKafkaBrokers()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestProducerMessage(t *testing.T) {
	event := NewEvent(TopicQueryCompleted, "evaluation", "run-7", QueryCompleted{RunID: "run-7", QueryID: "q1"})

	msg, err := producerMessage(TopicQueryCompleted, event)
	if err != nil {
		t.Fatalf("producerMessage() error = %v", err)
	}
	if msg.Topic != TopicQueryCompleted {
		t.Errorf("Topic = %s, want %s", msg.Topic, TopicQueryCompleted)
	}

	key, _ := msg.Key.Encode()
	if string(key) != "run-7" {
		t.Errorf("Key = %s, want run-7 (correlation id)", key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "run-7" {
		t.Errorf("Headers = %v, want correlation_id header", msg.Headers)
	}

	value, _ := msg.Value.Encode()
	var decoded Event
	if err := json.Unmarshal(value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.ID != event.ID {
		t.Errorf("decoded ID = %s, want %s", decoded.ID, event.ID)
	}

	uncorrelated := Event{ID: "solo"}
	msg, err = producerMessage("t", uncorrelated)
	if err != nil {
		t.Fatalf("producerMessage() error = %v", err)
	}
	key, _ = msg.Key.Encode()
	if string(key) != "solo" {
		t.Errorf("Key = %s, want event id", key)
	}
	if len(msg.Headers) != 0 {
		t.Errorf("Headers = %v, want none", msg.Headers)
	}
}

func TestKafkaBus_Dispatch(t *testing.T) {
	b := &KafkaBus{
		handlers: make(map[string][]Handler),
		log:      logger.Discard(),
	}

	var mu sync.Mutex
	var got []string
	b.handlers[TopicRunCompleted] = []Handler{func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, event.ID)
		return nil
	}}

	data, _ := json.Marshal(Event{ID: "e1"})
	b.dispatch(context.Background(), TopicRunCompleted, data)
	b.dispatch(context.Background(), TopicRunCompleted, []byte("not json"))

	if len(got) != 1 || got[0] != "e1" {
		t.Errorf("dispatched = %v, want [e1]", got)
	}
}

func TestKafkaBus_Interface(t *testing.T) {
	var _ Bus = (*KafkaBus)(nil)
}

func TestKafkaBus_CloseIdempotent(t *testing.T) {
	bus := &KafkaBus{
		handlers:     make(map[string][]Handler),
		consumerStop: make(chan struct{}),
		closed:       true,
	}

	if err := bus.Close(); err != nil {
		t.Errorf("Close() on closed bus returned error: %v", err)
	}
}

func TestKafkaBus_PublishAfterClose(t *testing.T) {
	bus := &KafkaBus{
		handlers:     make(map[string][]Handler),
		consumerStop: make(chan struct{}),
		closed:       true,
	}

	if err := bus.Publish(context.Background(), "test", Event{ID: "test"}); err == nil {
		t.Error("Publish() after Close() should return error")
	}

	err := bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if err == nil {
		t.Error("Subscribe() after Close() should return error")
	}
}
