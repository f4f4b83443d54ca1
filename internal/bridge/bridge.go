package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-version-index/internal/adapter"
	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/logger"
	"github.com/feral-file/ff-version-index/internal/store"
)

const retryInitialInterval = 200 * time.Millisecond

// Config holds the configuration for the version bridge
type Config struct {
	URL             string
	StreamName      string
	ConsumerName    string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ConnectionName  string
	AckWaitTimeout  time.Duration
	MaxDeliver      int
	WorkerPoolSize  int
	WorkerQueueSize int
	// RetryMaxElapsed bounds the in-process retries of one message before it is NAKed
	RetryMaxElapsed time.Duration
}

// Bridge consumes version events from JetStream and applies them to the store
type Bridge interface {
	// Run consumes until ctx is cancelled
	Run(ctx context.Context) error
	// Close closes the NATS connection
	Close()
}

type bridge struct {
	nc     adapter.NatsConn
	js     adapter.JetStream
	store  store.Store
	config Config
}

// NewBridge connects to NATS and creates a new version bridge
func NewBridge(cfg Config, natsJS adapter.NatsJetStream, st store.Store) (Bridge, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 1
	}

	return &bridge{
		nc:     nc,
		js:     js,
		store:  st,
		config: cfg,
	}, nil
}

// Run starts consuming version events
func (b *bridge) Run(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting version bridge",
		zap.String("stream", b.config.StreamName),
		zap.String("consumer", b.config.ConsumerName),
		zap.Int("workers", b.config.WorkerPoolSize),
	)

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       b.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.config.AckWaitTimeout,
		MaxDeliver:    b.config.MaxDeliver,
		FilterSubject: domain.VERSION_EVENT_SUBJECT_PREFIX + ".>",
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.InfoCtx(ctx, "Consumer created/retrieved", zap.String("consumer", consumerInfo.Name))

	poolOpts := []pond.Option{pond.WithContext(ctx)}
	if b.config.WorkerQueueSize > 0 {
		poolOpts = append(poolOpts, pond.WithQueueSize(b.config.WorkerQueueSize))
	}
	pool := pond.NewPool(b.config.WorkerPoolSize, poolOpts...)
	defer pool.StopAndWait()

	sub, err := consumer.Consume(func(msg adapter.Message) {
		pool.Submit(func() {
			b.handleMessage(ctx, msg)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.InfoCtx(ctx, "Started consuming version events")

	<-ctx.Done()
	logger.InfoCtx(ctx, "Shutting down version bridge")
	return ctx.Err()
}

// handleMessage applies one version event and settles the message
func (b *bridge) handleMessage(ctx context.Context, msg adapter.Message) {
	var deliveryCount uint64
	if metadata, err := msg.Metadata(); err == nil && metadata != nil {
		deliveryCount = metadata.NumDelivered
	}

	var event domain.VersionEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to unmarshal version event"), zap.String("subject", msg.Subject()))
		terminate(ctx, msg)
		return
	}

	if !event.Valid() {
		logger.WarnCtx(ctx, "Dropping invalid version event",
			zap.String("subject", msg.Subject()),
			zap.String("action", string(event.Action)),
			zap.String("chain", string(event.Chain)),
		)
		terminate(ctx, msg)
		return
	}

	identity := event.Identity()
	logger.DebugCtx(ctx, "Received version event",
		zap.String("action", string(event.Action)),
		zap.String("identity", identity.String()),
		zap.Uint64("blockNumber", event.BlockNumber),
		zap.Uint64("deliveryCount", deliveryCount),
	)

	if err := b.applyWithRetry(ctx, &event); err != nil {
		if isInvalidEvent(err) {
			logger.WarnCtx(ctx, "Dropping unstorable version event",
				zap.String("identity", identity.String()),
				zap.Error(err),
			)
			terminate(ctx, msg)
			return
		}

		logger.ErrorCtx(ctx, err,
			zap.String("message", "Failed to apply version event"),
			zap.String("identity", identity.String()),
			zap.Uint64("blockNumber", event.BlockNumber),
		)
		if err := msg.Nak(); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to NAK message"))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to ACK message"))
	}
}

// applyWithRetry retries transient store failures with exponential backoff
func (b *bridge) applyWithRetry(ctx context.Context, event *domain.VersionEvent) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = b.config.RetryMaxElapsed

	operation := func() error {
		err := b.apply(ctx, event)
		if err != nil && (isInvalidEvent(err) || errors.Is(err, domain.ErrStoreClosed)) {
			return backoff.Permanent(err)
		}
		return err
	}

	var attempts int
	notify := func(err error, next time.Duration) {
		attempts++
		logger.WarnCtx(ctx, "Version event failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempts),
			zap.Duration("next_retry_in", next),
		)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
}

// apply maps an event onto the store
func (b *bridge) apply(ctx context.Context, event *domain.VersionEvent) error {
	identity := event.Identity()

	switch event.Action {
	case domain.VersionActionUpsert:
		return b.store.Insert(ctx, identity, event.BlockNumber, event.Payload)
	case domain.VersionActionRollback:
		err := b.store.Remove(ctx, identity, event.BlockNumber)
		if errors.Is(err, domain.ErrNotFound) {
			logger.InfoCtx(ctx, "Rolled back version already absent",
				zap.String("identity", identity.String()),
				zap.Uint64("blockNumber", event.BlockNumber),
			)
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrEncoding, event.Action)
	}
}

// isInvalidEvent reports errors that no redelivery can fix
func isInvalidEvent(err error) bool {
	return errors.Is(err, domain.ErrEncoding) || errors.Is(err, domain.ErrInvalidIdentity)
}

func terminate(ctx context.Context, msg adapter.Message) {
	if err := msg.Term(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to terminate message"))
	}
}

// Close closes the NATS connection
func (b *bridge) Close() {
	if b.nc == nil {
		return
	}

	b.nc.Close()
}
