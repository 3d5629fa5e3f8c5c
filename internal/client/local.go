// Package client adapts the order service and product catalog to the
// interfaces checkout and lifecycle consume, either in-process or over HTTP.
package client

import (
	"context"

	"github.com/example/watch-shop/internal/domain/order"
)

// Local calls an order.Service in the same process
type Local struct {
	svc *order.Service
}

func NewLocal(svc *order.Service) *Local {
	return &Local{svc: svc}
}

func (l *Local) Checkout(ctx context.Context, req order.Request) (*order.Confirmation, error) {
	o, err := l.svc.Place(ctx, req)
	if err != nil {
		return nil, order.AsServiceError(err)
	}
	return o.Confirmation(), nil
}

func (l *Local) UpdateStatus(ctx context.Context, orderID string, status order.Status) (*order.Order, error) {
	o, err := l.svc.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return nil, order.AsServiceError(err)
	}
	return o, nil
}
