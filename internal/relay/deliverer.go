package relay

import (
	"context"

	"github.com/google/uuid"

	"github.com/matheus3301/livesync/internal/entity"
)

// Deliverer hands an outgoing message to the network and returns the id the
// message is known by from then on.
type Deliverer interface {
	Deliver(ctx context.Context, m entity.Message) (string, error)
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, m entity.Message) (string, error)

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, m entity.Message) (string, error) {
	return f(ctx, m)
}

// Loopback accepts every message locally and assigns it a random id. It
// serves daemons running without a WhatsApp connection.
type Loopback struct{}

// Deliver implements Deliverer.
func (Loopback) Deliver(ctx context.Context, _ entity.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}
