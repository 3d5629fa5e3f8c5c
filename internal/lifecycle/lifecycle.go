// Package lifecycle drives admin status changes on orders and owns the
// status labels shown in the admin console.
package lifecycle

import (
	"context"
	"fmt"
	"log"

	"github.com/example/watch-shop/internal/domain/order"
)

// UnknownLabel is shown for an empty or unrecognised status
const UnknownLabel = "Không xác định"

var labels = map[order.Status]string{
	order.StatusPending:    "Chờ Xử Lý",
	order.StatusProcessing: "Đang Xử Lý",
	order.StatusDelivered:  "Đã Giao",
	order.StatusCancelled:  "Đã Hủy",
}

// StatusUpdater persists a status change on the order service
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, orderID string, status order.Status) (*order.Order, error)
}

// StatusOption is one entry of the admin status dropdown
type StatusOption struct {
	Value order.Status `json:"value"`
	Label string       `json:"label"`
}

type Lifecycle struct {
	updater StatusUpdater
	strict  bool
}

type Option func(*Lifecycle)

// WithStrictTransitions rejects changes outside
// PENDING -> PROCESSING -> DELIVERED, with CANCELLED from the first two.
func WithStrictTransitions() Option {
	return func(l *Lifecycle) { l.strict = true }
}

func New(updater StatusUpdater, opts ...Option) *Lifecycle {
	l := &Lifecycle{updater: updater}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lifecycle) Strict() bool { return l.strict }

// ChangeStatus asks the order service to move o to newStatus and returns the
// order as the service stored it. Unknown statuses never reach the service.
func (l *Lifecycle) ChangeStatus(ctx context.Context, o *order.Order, newStatus string) (*order.Order, error) {
	if o == nil || o.ID == "" {
		return nil, fmt.Errorf("%w: order id is required", order.ErrInvalidRequest)
	}
	status, err := order.ParseStatus(newStatus)
	if err != nil {
		return nil, err
	}
	if l.strict && o.Status != status && !order.CanTransition(o.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", order.ErrInvalidTransition, o.Status, status)
	}

	updated, err := l.updater.UpdateStatus(ctx, o.ID, status)
	if err != nil {
		log.Printf("[Lifecycle] Status change %s -> %s failed for order %s: %v", o.Status, status, o.ID, err)
		return nil, order.AsServiceError(err)
	}
	return updated, nil
}

// AllowedNext lists the statuses an admin may pick for an order currently in
// status. Without strict transitions that is every other status.
func (l *Lifecycle) AllowedNext(status order.Status) []order.Status {
	if l.strict {
		return order.NextStatuses(status)
	}
	var next []order.Status
	for _, s := range order.Statuses() {
		if s != status {
			next = append(next, s)
		}
	}
	return next
}

// Label returns the display label for status
func Label(status order.Status) string {
	if label, ok := labels[status]; ok {
		return label
	}
	return UnknownLabel
}

// Statuses returns the dropdown entries in display order
func Statuses() []StatusOption {
	all := order.Statuses()
	options := make([]StatusOption, 0, len(all))
	for _, s := range all {
		options = append(options, StatusOption{Value: s, Label: Label(s)})
	}
	return options
}
