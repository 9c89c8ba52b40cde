package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

const auditLogName = "consortium.log"

// Consumer listens to every domain queue and appends one human-friendly
// line per event to <dir>/consortium.log.
type Consumer struct {
    url    string
    dir    string
    logger *zap.Logger
}

// NewConsumer returns a Consumer reading from the broker at url.
func NewConsumer(url, dir string, logger *zap.Logger) *Consumer {
    if dir == "" {
        dir = "logs"
    }
    return &Consumer{url: url, dir: dir, logger: logger}
}

// Run connects to RabbitMQ, declares the queues and consumes until ctx is
// cancelled.  It runs a reconnect loop with exponential backoff; a
// message that cannot be handled is rejected without requeue so the
// loop keeps going.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        if err := ctx.Err(); err != nil {
            return err
        }
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.logger.Warn("audit-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.logger.Warn("audit-consumer: consume loop ended; reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.logger.Warn("audit-consumer: set QoS failed", zap.Error(err))
    }

    type tagged struct {
        queue string
        d     amqp.Delivery
    }
    merged := make(chan tagged)
    for _, name := range []string{ConsortiumFinalizedQueue, KYCDecidedQueue, RequestClosedQueue} {
        if err := declare(ch, name); err != nil {
            return fmt.Errorf("queue declare %s: %w", name, err)
        }
        msgs, err := ch.Consume(name, "", false, false, false, false, nil)
        if err != nil {
            return fmt.Errorf("queue consume %s: %w", name, err)
        }
        go func(name string, msgs <-chan amqp.Delivery) {
            for d := range msgs {
                select {
                case merged <- tagged{queue: name, d: d}:
                case <-ctx.Done():
                    return
                }
            }
        }(name, msgs)
    }

    closed := ch.NotifyClose(make(chan *amqp.Error, 1))
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case amqpErr := <-closed:
            if amqpErr != nil {
                return amqpErr
            }
            return errors.New("channel closed")
        case m := <-merged:
            if err := c.handle(m.queue, m.d.Body); err != nil {
                c.logger.Warn("audit-consumer: handle message failed", zap.String("queue", m.queue), zap.Error(err))
                _ = m.d.Nack(false, false)
                continue
            }
            _ = m.d.Ack(false)
        }
    }
}

func (c *Consumer) handle(queue string, body []byte) error {
    line, err := FormatAuditLine(queue, body)
    if err != nil {
        return err
    }
    if err := os.MkdirAll(c.dir, 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(filepath.Join(c.dir, auditLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// FormatAuditLine renders one event as a single newline-terminated line.
func FormatAuditLine(queue string, body []byte) (string, error) {
    switch queue {
    case ConsortiumFinalizedQueue:
        var ev ConsortiumFinalizedEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return "", fmt.Errorf("unmarshal: %w", err)
        }
        parts := make([]string, 0, len(ev.Allocations))
        for _, a := range ev.Allocations {
            parts = append(parts, fmt.Sprintf("provider=%d:%s%%@%s%s", a.ProviderID, a.CoveragePercent, a.Premium, a.PremiumCurrency))
        }
        return fmt.Sprintf("[%s] Consortium finalized | request_id=%d | company_id=%d | title=%q | target=%d%% | sum_insured=%s %s | allocations=[%s] | rejected=%d\n",
            ev.FinalizedAt, ev.RequestID, ev.CompanyID, ev.Title, ev.TargetCoverage, ev.SumInsured, ev.Currency,
            strings.Join(parts, ","), len(ev.RejectedBidIDs)), nil
    case KYCDecidedQueue:
        var ev KYCDecidedEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return "", fmt.Errorf("unmarshal: %w", err)
        }
        return fmt.Sprintf("[%s] KYC decided | provider_id=%d | reviewer_id=%d | status=%s | note=%q\n",
            ev.DecidedAt, ev.ProviderID, ev.ReviewerID, ev.Status, ev.Note), nil
    case RequestClosedQueue:
        var ev RequestClosedEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return "", fmt.Errorf("unmarshal: %w", err)
        }
        return fmt.Sprintf("[%s] Request closed | request_id=%d | company_id=%d | by=%s\n",
            ev.ClosedAt, ev.RequestID, ev.CompanyID, ev.ClosedBy), nil
    }
    return "", fmt.Errorf("unknown queue %q", queue)
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
