package queue

import (
    "context"
    "encoding/json"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// Publisher publishes domain events to RabbitMQ.  It dials per publish
// so a broker outage never wedges the request path; errors are logged
// and returned so callers can choose to ignore them.  Messages are
// marked as persistent.
type Publisher struct {
    url    string
    logger *zap.Logger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, logger *zap.Logger) *Publisher {
    return &Publisher{url: url, logger: logger}
}

// Publish sends ev to its queue.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
    name := ev.QueueName()
    conn, err := amqp.Dial(p.url)
    if err != nil {
        p.logger.Warn("rabbitmq: dial failed", zap.String("queue", name), zap.Error(err))
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        p.logger.Warn("rabbitmq: channel open failed", zap.String("queue", name), zap.Error(err))
        return err
    }
    defer func() { _ = ch.Close() }()

    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if err := declare(ch, name); err != nil {
        p.logger.Warn("rabbitmq: queue declare failed", zap.String("queue", name), zap.Error(err))
        return err
    }

    body, err := json.Marshal(ev)
    if err != nil {
        p.logger.Warn("rabbitmq: marshal event failed", zap.String("queue", name), zap.Error(err))
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }

    if err := ch.PublishWithContext(ctx,
        "",    // default exchange
        name,  // routing key = queue name
        false, // mandatory
        false, // immediate
        pub,
    ); err != nil {
        p.logger.Warn("rabbitmq: publish failed", zap.String("queue", name), zap.Error(err))
        return err
    }
    return nil
}

func declare(ch *amqp.Channel, name string) error {
    _, err := ch.QueueDeclare(
        name,
        true,  // durable
        false, // autoDelete
        false, // exclusive
        false, // noWait
        nil,   // args
    )
    return err
}

// NopPublisher drops every event.  It is used when the broker is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
