package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/square"
)

// New selects the driver named by cfg.Payments.Driver.
func New(ctx context.Context, cfg config.Config, logg *logger.Logger) (Gateway, error) {
	switch driver := cfg.Payments.NormalizedDriver(); driver {
	case config.PaymentsDriverMock:
		mock, err := NewMock(cfg.Payments.WebhookSecret)
		if err != nil {
			return nil, err
		}
		return mock, nil
	case config.PaymentsDriverSquare:
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		sqGateway, err := NewSquare(client, cfg.Payments.WebhookSecret, cfg.Payments.GatewayTimeout)
		if err != nil {
			return nil, err
		}
		return sqGateway, nil
	default:
		return nil, fmt.Errorf("unsupported payments driver %q", driver)
	}
}

// Registry resolves the gateway that owns a webhook provider segment.
type Registry struct {
	primary Gateway
	byName  map[string]Gateway
}

// NewRegistry registers the primary gateway plus any additional drivers.
func NewRegistry(primary Gateway, others ...Gateway) *Registry {
	r := &Registry{primary: primary, byName: map[string]Gateway{}}
	for _, g := range append([]Gateway{primary}, others...) {
		if g == nil {
			continue
		}
		r.byName[strings.ToLower(g.Name())] = g
	}
	return r
}

// Primary returns the gateway used for new payments.
func (r *Registry) Primary() Gateway {
	return r.primary
}

// Lookup returns the gateway registered for provider (case-insensitive).
func (r *Registry) Lookup(provider string) (Gateway, bool) {
	g, ok := r.byName[strings.ToLower(strings.TrimSpace(provider))]
	return g, ok
}
