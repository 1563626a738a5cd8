package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/fjod/go_cart_saga/orders-service/internal/domain"
	"github.com/fjod/go_cart_saga/orders-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/events"
)

type fakeOrders struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	lookErr error
	updates int
}

func newFakeOrders(reservationIDs ...string) *fakeOrders {
	f := &fakeOrders{orders: map[string]*domain.Order{}}
	for _, id := range reservationIDs {
		f.orders[id] = &domain.Order{ID: uuid.New(), ReservationID: id, Status: domain.OrderStatusConfirmed}
	}
	return f
}

func (f *fakeOrders) GetOrderByReservationID(_ context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookErr != nil {
		return nil, f.lookErr
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == id {
			if !o.Status.CanTransition(status) {
				return nil, domain.ErrInvalidTransition
			}
			o.Status = status
			f.updates++
			return o, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (f *fakeOrders) status(reservationID string) domain.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[reservationID].Status
}

func message(t *testing.T, e events.Checkout) kafkaGo.Message {
	payload, err := json.Marshal(e)
	require.NoError(t, err)
	return kafkaGo.Message{
		Key:     []byte(e.ReservationID),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: events.HeaderEventType, Value: []byte(e.Type)}},
	}
}

func TestHandle_CompletedMovesOrderToProcessing(t *testing.T) {
	orders := newFakeOrders("res_1")
	c := &Consumer{repo: orders}

	ev := events.Checkout{Type: events.TypeCheckoutCompleted, ReservationID: "res_1"}
	require.NoError(t, c.handle(context.Background(), message(t, ev)))
	assert.Equal(t, domain.OrderStatusProcessing, orders.status("res_1"))

	// redelivery is harmless
	require.NoError(t, c.handle(context.Background(), message(t, ev)))
	assert.Equal(t, 1, orders.updates)
}

func TestHandle_SkipsIrrelevantMessages(t *testing.T) {
	orders := newFakeOrders("res_1")
	c := &Consumer{repo: orders}
	ctx := context.Background()

	require.NoError(t, c.handle(ctx, kafkaGo.Message{Value: []byte("not json")}))
	require.NoError(t, c.handle(ctx, message(t, events.Checkout{Type: events.TypeCheckoutFailed, ReservationID: "res_1"})))
	require.NoError(t, c.handle(ctx, message(t, events.Checkout{Type: events.TypeCheckoutCompleted, ReservationID: "res_unknown"})))

	assert.Equal(t, domain.OrderStatusConfirmed, orders.status("res_1"))
}

func TestHandle_StorageErrorIsReturned(t *testing.T) {
	orders := newFakeOrders("res_1")
	orders.lookErr = errors.New("db down")
	c := &Consumer{repo: orders}

	err := c.handle(context.Background(), message(t, events.Checkout{Type: events.TypeCheckoutCompleted, ReservationID: "res_1"}))
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
	require.NotEmpty(t, brokers)
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

func TestConsumer_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := setupKafka(t)
	createTopic(t, broker, events.DefaultTopic)

	orders := newFakeOrders("res_kafka")

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(broker),
		Topic:                  events.DefaultTopic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	ev := events.Checkout{Type: events.TypeCheckoutCompleted, ReservationID: "res_kafka", OccurredAt: time.Now()}
	// same event twice
	require.NoError(t, w.WriteMessages(ctx, message(t, ev), message(t, ev)))
	require.NoError(t, w.Close())

	c := NewConsumer(orders, events.DefaultTopic, "orders-service-test", broker)
	defer c.Close()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		return orders.status("res_kafka") == domain.OrderStatusProcessing
	}, 30*time.Second, 500*time.Millisecond)
}
