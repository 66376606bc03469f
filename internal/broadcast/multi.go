package broadcast

import (
	"context"
	"errors"
)

// Multi publishes to every wrapped publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
