package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/livesync/internal/entity"
	"go.uber.org/zap"
)

// Reload is a full snapshot fetched from the source after (re)subscribing.
type Reload struct {
	Scope         Scope
	Reason        string
	Messages      []entity.Message
	Conversations []entity.Conversation
}

// Handler receives everything the ingestor reads. Calls are sequential and
// in arrival order. Returning an error stops the ingestor.
type Handler interface {
	HandleReload(r Reload) error
	HandleEvent(ev ChangeEvent) error
}

// IngestorConfig tunes reload size and reconnect pacing.
type IngestorConfig struct {
	Limit          int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultIngestorConfig returns the settings used when none are given.
func DefaultIngestorConfig() IngestorConfig {
	return IngestorConfig{
		Limit:          200,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Ingestor keeps one scope in sync with the source. It subscribes first and
// reloads second, so nothing published in between is lost; the overlap is
// absorbed by the idempotent merge downstream. Whenever the stream ends it
// backs off, resubscribes and reloads again.
type Ingestor struct {
	source  Source
	scope   Scope
	handler Handler
	cfg     IngestorConfig
	logger  *zap.Logger

	// OnResync, when set, is called before every reload is handed over.
	OnResync func(reason string)
}

// NewIngestor creates an ingestor for scope. It does nothing until Run.
func NewIngestor(source Source, scope Scope, handler Handler, cfg IngestorConfig, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultIngestorConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	return &Ingestor{
		source:  source,
		scope:   scope,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With(zap.Stringer("scope", scope)),
	}
}

// errHandler marks failures coming from the handler, which are not retried.
type errHandler struct{ err error }

func (e errHandler) Error() string { return "handler: " + e.err.Error() }
func (e errHandler) Unwrap() error { return e.err }

// Run blocks until ctx is cancelled or the handler fails.
func (in *Ingestor) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = in.cfg.InitialBackoff
	b.MaxInterval = in.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	reason := "initial load"
	op := func() error {
		err := in.session(ctx, reason, b)
		reason = "stream ended"
		var he errHandler
		if errors.As(err, &he) {
			return backoff.Permanent(he.err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		in.logger.Warn("subscription lost, resyncing", zap.Error(err), zap.Duration("backoff", wait))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// session runs one subscribe, reload and receive cycle. It always returns a
// non-nil error.
func (in *Ingestor) session(ctx context.Context, reason string, b backoff.BackOff) error {
	stream, err := in.source.Subscribe(ctx, in.scope)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = stream.Close() }()

	if err := in.reload(ctx, reason); err != nil {
		return err
	}
	b.Reset()

	for {
		ev, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("recv: %w", err)
		}
		if err := ev.Validate(in.scope); err != nil {
			in.logger.Warn("discarding change event",
				zap.String("table", string(ev.Table)), zap.String("op", string(ev.Op)), zap.Error(err))
			continue
		}
		if err := in.handler.HandleEvent(ev); err != nil {
			return errHandler{err}
		}
	}
}

func (in *Ingestor) reload(ctx context.Context, reason string) error {
	r := Reload{Scope: in.scope, Reason: reason}
	if in.scope.IsList() {
		convs, err := in.source.ListConversations(ctx, in.cfg.Limit)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		r.Conversations = convs
	} else {
		msgs, err := in.source.ListMessages(ctx, in.scope.ConversationID, in.cfg.Limit)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		r.Messages = msgs
	}

	in.logger.Info("resync",
		zap.String("reason", reason),
		zap.Int("messages", len(r.Messages)),
		zap.Int("conversations", len(r.Conversations)))
	if in.OnResync != nil {
		in.OnResync(reason)
	}
	if err := in.handler.HandleReload(r); err != nil {
		return errHandler{err}
	}
	return nil
}
