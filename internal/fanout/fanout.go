// Package fanout mirrors committed change events onto NATS subjects so that
// processes outside the daemon can follow them without a gRPC stream.
//
// Message changes go to <prefix>.messages.<conversation>, summary changes to
// <prefix>.conversations. Payloads are the JSON form of the wire event.
package fanout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/bus"
	intsync "github.com/matheus3301/livesync/internal/sync"
)

// Publisher is the slice of *nats.Conn the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials url and keeps reconnecting for the life of the process.
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// Mirror copies bus change events to a Publisher.
type Mirror struct {
	bus    *bus.Bus
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// New creates a mirror. An empty prefix means "livesync".
func New(b *bus.Bus, pub Publisher, prefix string, logger *zap.Logger) *Mirror {
	if prefix == "" {
		prefix = "livesync"
	}
	return &Mirror{bus: b, pub: pub, prefix: prefix, logger: logger.Named("fanout")}
}

// Run mirrors events until ctx is done. A subscription dropped for falling
// behind is replaced; the events it missed are not mirrored.
func (m *Mirror) Run(ctx context.Context) {
	for _, ns := range []string{bus.MessagesNamespace, bus.ConversationsNamespace} {
		go m.follow(ctx, ns)
	}
}

func (m *Mirror) follow(ctx context.Context, namespace string) {
	for {
		sub := m.bus.Subscribe(namespace, 256)
		m.drain(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("fanout subscription dropped, resubscribing",
			zap.String("namespace", namespace), zap.Error(sub.Err()))
	}
}

func (m *Mirror) drain(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			ev, ok := evt.Payload.(intsync.ChangeEvent)
			if !ok {
				continue
			}
			if err := m.Forward(ev); err != nil {
				m.logger.Warn("fanout publish failed", zap.String("kind", evt.Kind), zap.Error(err))
			}
		}
	}
}

// Forward publishes one event.
func (m *Mirror) Forward(ev intsync.ChangeEvent) error {
	data, err := api.MarshalEvent(ev)
	if err != nil {
		return err
	}
	return m.pub.Publish(Subject(m.prefix, ev), data)
}

// Subject returns the subject ev is published on.
func Subject(prefix string, ev intsync.ChangeEvent) string {
	if ev.Table == intsync.Messages && ev.Message != nil {
		return prefix + ".messages." + Token(ev.Message.ConversationID)
	}
	return prefix + ".conversations"
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// Token makes id usable as a single subject token. JIDs such as
// 123@s.whatsapp.net contain dots, which NATS treats as separators.
func Token(id string) string {
	if id == "" {
		return "_"
	}
	return tokenReplacer.Replace(id)
}
