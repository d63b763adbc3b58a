package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/resilience"
)

const (
	auditorQueueGroup = "auditors"
	// hashHeader lets consumers dedupe redelivered events without decoding.
	hashHeader = "Ledger-Hash"
)

// Bus carries ledger-appended events between the API and the auditor.
type Bus struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

// Options tune the connection. Zero values pick the defaults below; the
// client keeps retrying when the broker is down at startup.
type Options struct {
	Name           string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Executor       *resilience.Executor
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "heritage-ocr"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func Connect(url, subject string, options Options) (*Bus, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats: subject is required")
	}
	o := options.withDefaults()
	logger := o.Logger.With(slog.String("subject", subject))

	conn, err := nats.Connect(url,
		nats.Name(o.Name),
		nats.Timeout(o.ConnectTimeout),
		nats.ReconnectWait(o.ReconnectWait),
		nats.MaxReconnects(o.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{conn: conn, subject: subject, executor: o.Executor, logger: logger}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) PublishLedgerAppended(ctx context.Context, event domain.LedgerAppendedEvent) error {
	msg, err := b.message(event)
	if err != nil {
		return err
	}
	err = b.executor.Execute(ctx, "nats.publish", func(context.Context) error {
		if err := b.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyPublishError)
	return publishError(err)
}

func (b *Bus) message(event domain.LedgerAppendedEvent) (*nats.Msg, error) {
	payload, err := encodeEvent(event)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(b.subject)
	msg.Data = payload
	msg.Header.Set(hashHeader, event.Hash)
	return msg, nil
}

func (b *Bus) SubscribeLedgerAppended(ctx context.Context, handler func(context.Context, domain.LedgerAppendedEvent) error) error {
	sub, err := b.conn.QueueSubscribe(b.subject, auditorQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		event, err := decodeEvent(msg.Data)
		if err != nil {
			b.logger.Warn("ledger_event_decode_failed", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, event); err != nil {
			b.logger.Error("ledger_event_handler_failed", "index", event.Index, "hash", event.Hash, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeEvent(event domain.LedgerAppendedEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger event: %w", err)
	}
	return payload, nil
}

func decodeEvent(data []byte) (domain.LedgerAppendedEvent, error) {
	var event domain.LedgerAppendedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.LedgerAppendedEvent{}, fmt.Errorf("unmarshal ledger event: %w", err)
	}
	if event.Hash == "" {
		return domain.LedgerAppendedEvent{}, fmt.Errorf("ledger event without hash")
	}
	return event, nil
}

// NoopPublisher drops events when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishLedgerAppended(context.Context, domain.LedgerAppendedEvent) error {
	return nil
}
