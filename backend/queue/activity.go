package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/terraconnect/terra-connect/backend/models"
	"github.com/terraconnect/terra-connect/backend/storage/cache"
	storage "github.com/terraconnect/terra-connect/backend/storage/persistent"
)

// ActivityQueueName is the RabbitMQ queue carrying activity messages.
const ActivityQueueName = "activityQueue"

var errMalformedMessage = errors.New("malformed activity message")

// ActivityStore is the part of the persistent storage the consumers write to.
type ActivityStore interface {
	AddActivity(ctx context.Context, activity *models.Activity) (*models.Activity, error)
}

// ActivityMessage is the body of an activity message.
type ActivityMessage struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	BuyerEmail   string    `json:"buyer_email"`
	ChallengeID  string    `json:"challenge_id"`
	Status       string    `json:"status,omitempty"`
	Target       float64   `json:"target"`
	ImpactMetric string    `json:"impact_metric"`
	Timestamp    time.Time `json:"timestamp"`
}

func (m *ActivityMessage) toActivity() *models.Activity {
	return &models.Activity{
		MessageID:    m.ID,
		Type:         m.Type,
		BuyerEmail:   m.BuyerEmail,
		ChallengeID:  m.ChallengeID,
		Status:       m.Status,
		Target:       m.Target,
		ImpactMetric: m.ImpactMetric,
		Timestamp:    m.Timestamp,
	}
}

// ActivityProducerFactory creates ActivityProducer instances.
type ActivityProducerFactory struct{}

// ActivityConsumerFactory creates ActivityConsumer instances sharing one cache and store.
type ActivityConsumerFactory struct {
	Cache cache.CacheInterface
	Store ActivityStore
}

// ActivityProducer publishes activity messages to the AMQP queue.
type ActivityProducer struct {
	channel *amqp.Channel
	queue   *amqp.Queue
}

// ActivityConsumer records activity messages, skipping the ones the cache marks as processed.
type ActivityConsumer struct {
	channel *amqp.Channel
	queue   *amqp.Queue
	cache   cache.CacheInterface
	store   ActivityStore
}

func (f *ActivityProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &ActivityProducer{channel: ch, queue: queue}, nil
}

func (f *ActivityConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	if f.Cache == nil || f.Store == nil {
		return nil, errors.New("activity consumer needs a cache and a store")
	}
	return &ActivityConsumer{
		channel: ch,
		queue:   queue,
		cache:   f.Cache,
		store:   f.Store,
	}, nil
}

// Publish publishes body as a persistent JSON message.
func (p *ActivityProducer) Publish(body []byte) error {
	err := p.channel.Publish(
		"",           // exchange
		p.queue.Name, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}
	return nil
}

// Consume registers the consumer on the queue and starts a worker that
// handles deliveries until ctx is cancelled or the channel closes.
func (c *ActivityConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := c.channel.Consume(
		c.queue.Name,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case d, ok := <-msgs:
				if !ok {
					return
				}
				switch err := c.handle(ctx, d.Body); {
				case err == nil:
					d.Ack(false)
				case errors.Is(err, errMalformedMessage):
					log.Printf("dropping activity message: %v", err)
					d.Nack(false, false)
				default:
					log.Printf("failed to record activity: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

// handle records one message. A nil error means the delivery can be acknowledged.
func (c *ActivityConsumer) handle(ctx context.Context, body []byte) error {
	message := &ActivityMessage{}
	if err := json.Unmarshal(body, message); err != nil {
		return fmt.Errorf("%w: %v", errMalformedMessage, err)
	}
	if message.ID == "" || message.Type == "" {
		return fmt.Errorf("%w: missing id or type", errMalformedMessage)
	}

	key := "activity_" + message.ID
	processed, err := c.cache.Get(ctx, key)
	if err != nil && !errors.Is(err, cache.ErrKeyNotFound) {
		return fmt.Errorf("error checking cache: %w", err)
	}
	if processed != nil {
		return nil
	}

	if _, err := c.store.AddActivity(ctx, message.toActivity()); err != nil && !errors.Is(err, storage.ErrConflict) {
		return err
	}

	if err := c.cache.Set(ctx, key, true); err != nil {
		log.Printf("failed to set key in cache: %v", err)
	}
	return nil
}

// BuildActivityQueue initializes the activity queue with numProducers producers
// and numConsumers consumers.
func BuildActivityQueue(rabbitMQURL string, numProducers, numConsumers int, activityCache cache.CacheInterface, store ActivityStore) (*Queue, error) {
	prodFactories := make([]ProducerFactory, numProducers)
	for i := range prodFactories {
		prodFactories[i] = &ActivityProducerFactory{}
	}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := range consFactories {
		consFactories[i] = &ActivityConsumerFactory{Cache: activityCache, Store: store}
	}

	return InitQueue(rabbitMQURL, ActivityQueueName, prodFactories, consFactories)
}

// PublishActivity fills in the message id and timestamp when missing and
// publishes the message with the next producer.
func (q *Queue) PublishActivity(ctx context.Context, message *ActivityMessage) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal activity message: %w", err)
	}

	producer, err := q.nextProducer()
	if err != nil {
		return err
	}
	if err := producer.Publish(body); err != nil {
		return fmt.Errorf("failed to publish activity message: %w", err)
	}
	return nil
}
