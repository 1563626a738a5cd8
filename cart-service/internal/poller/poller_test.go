package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/fjod/go_cart_saga/pkg/events"
)

type recordingClearer struct {
	m       sync.Mutex
	cleared []string
	err     error
}

func (r *recordingClearer) Clear(_ context.Context, cartID string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return r.err
	}
	r.cleared = append(r.cleared, cartID)
	return nil
}

func (r *recordingClearer) Cleared() []string {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]string(nil), r.cleared...)
}

func message(t *testing.T, e events.Checkout) kafkaGo.Message {
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return kafkaGo.Message{
		Key:     []byte(e.ReservationID),
		Value:   data,
		Headers: []kafkaGo.Header{{Key: events.HeaderEventType, Value: []byte(e.Type)}},
	}
}

func TestHandle_CompletedClearsCart(t *testing.T) {
	clearer := &recordingClearer{}
	p := &Poller{carts: clearer}

	err := p.handle(context.Background(), message(t, events.Checkout{
		Type: events.TypeCheckoutCompleted, ReservationID: "res_1", CartID: "cart-1", OrderID: "o1",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"cart-1"}, clearer.Cleared())
}

func TestHandle_IgnoresOtherEvents(t *testing.T) {
	clearer := &recordingClearer{}
	p := &Poller{carts: clearer}

	require.NoError(t, p.handle(context.Background(), message(t, events.Checkout{
		Type: events.TypeCheckoutFailed, ReservationID: "res_1", CartID: "cart-1",
	})))
	require.NoError(t, p.handle(context.Background(), kafkaGo.Message{Value: []byte("{broken")}))
	assert.Empty(t, clearer.Cleared())
}

func TestHandle_ClearErrorIsReturned(t *testing.T) {
	p := &Poller{carts: &recordingClearer{err: errors.New("mongo down")}}
	err := p.handle(context.Background(), message(t, events.Checkout{
		Type: events.TypeCheckoutCompleted, ReservationID: "res_1", CartID: "cart-1",
	}))
	assert.Error(t, err)
}

func setupKafka(t *testing.T) string {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")
	return brokers[0]
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPoller_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := setupKafka(t)
	createTopic(t, broker, events.DefaultTopic)

	clearer := &recordingClearer{}
	p := NewPoller(clearer, events.DefaultTopic, "cart-service-test", broker)
	defer p.Close()

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(broker),
		Topic:                  events.DefaultTopic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	require.NoError(t, w.WriteMessages(ctx, message(t, events.Checkout{
		Type:          events.TypeCheckoutCompleted,
		ReservationID: "res_1",
		CartID:        "cart-123",
		OrderID:       "order-1",
		OccurredAt:    time.Now(),
	})))
	require.NoError(t, w.Close())

	go p.Run(ctx)
	require.Eventually(t, func() bool {
		return len(clearer.Cleared()) == 1
	}, 30*time.Second, 500*time.Millisecond)
	assert.Equal(t, "cart-123", clearer.Cleared()[0])
}
