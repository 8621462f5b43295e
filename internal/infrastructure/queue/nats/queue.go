package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/resilience"
)

const (
	workerGroup      = "vetrecord-workers"
	documentIDHeader = "Vetrecord-Document-Id"
	drainTimeout     = 5 * time.Second
)

// Queue hands document ids to pipeline workers. Every worker joins the same
// queue group, so each published id is delivered to exactly one of them.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func (o Options) natsOptions(logger *slog.Logger) []nats.Option {
	connectTimeout := o.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := o.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := o.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retry := true
	if o.RetryOnFailedConnect != nil {
		retry = *o.RetryOnFailedConnect
	}
	return []nats.Option{
		nats.Name("vetrecord-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retry),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats_async_error", "subject", subject, "error", err)
		}),
	}
}

func New(url, subject string, options Options) (*Queue, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url, options.natsOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Ready round-trips a PING to the server.
func (q *Queue) Ready(ctx context.Context) error {
	if !q.conn.IsConnected() {
		return fmt.Errorf("nats status %s: %w", q.conn.Status(), nats.ErrDisconnected)
	}
	if _, ok := ctx.Deadline(); !ok {
		return q.conn.FlushTimeout(2 * time.Second)
	}
	return q.conn.FlushWithContext(ctx)
}

// PublishDocument sends one document id. Connection-level failures come back
// as domain.ErrTemporary.
func (q *Queue) PublishDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "publish document", errors.New("empty document id"))
	}
	msg := &nats.Msg{
		Subject: q.subject,
		Data:    []byte(documentID),
		Header:  nats.Header{documentIDHeader: []string{documentID}},
	}
	_, err := resilience.Do(ctx, q.executor, "nats.publish", func(context.Context) (struct{}, error) {
		return struct{}{}, q.conn.PublishMsg(msg)
	}, classifyNATSError)
	if err != nil {
		return asTemporary("publish document "+documentID, err)
	}
	return nil
}

// SubscribeDocuments blocks until ctx is cancelled, then drains the
// subscription. The handler sees one message at a time.
func (q *Queue) SubscribeDocuments(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		documentID := documentIDFrom(msg)
		if documentID == "" {
			q.logger.Warn("nats_empty_message", "subject", msg.Subject)
			return
		}
		if err := handler(ctx, documentID); err != nil {
			q.logger.Error("worker_handler_failed", "document_id", documentID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", q.subject, err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(drainTimeout); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func documentIDFrom(msg *nats.Msg) string {
	if msg.Header != nil {
		if id := strings.TrimSpace(msg.Header.Get(documentIDHeader)); id != "" {
			return id
		}
	}
	return strings.TrimSpace(string(msg.Data))
}
