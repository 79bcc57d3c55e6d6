package live

import (
	"context"

	"go.uber.org/multierr"

	"complylaw/internal/ports"
)

// Fanout publishes to every transport and reports their combined failures.
type Fanout []ports.Publisher

func (f Fanout) Publish(ctx context.Context, topic string, event any) error {
	var err error
	for _, p := range f {
		err = multierr.Append(err, p.Publish(ctx, topic, event))
	}
	return err
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) error { return nil }
