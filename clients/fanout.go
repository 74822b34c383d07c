package clients

import (
	"context"
	"errors"
)

type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
}

// Fanout sends each event to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, key string, body []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, key, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
