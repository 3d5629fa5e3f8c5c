package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/watch-shop/internal/domain/order"
	"github.com/example/watch-shop/internal/email"
	"github.com/example/watch-shop/internal/infrastructure/store"
	"github.com/example/watch-shop/internal/lifecycle"
	"github.com/shopspring/decimal"
)

// Mailer sends customer notifications
type Mailer interface {
	SendOrderConfirmation(to, orderNumber string, total decimal.Decimal, items []email.OrderItem) error
	SendStatusUpdate(to, orderNumber, statusLabel string) error
}

// Handler processes events for sending notifications
type Handler struct {
	mailer Mailer
}

// NewHandler creates a new notification handler
func NewHandler(mailer Mailer) *Handler {
	return &Handler{mailer: mailer}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}

	switch event.EventType {
	case order.EventOrderPlaced:
		return h.handleOrderPlaced(event)
	case order.EventOrderStatusChanged:
		return h.handleStatusChanged(event)
	}
	return nil
}

func (h *Handler) handleOrderPlaced(event store.Event) error {
	var e order.OrderPlaced
	if err := json.Unmarshal(event.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderPlaced event: %v", err)
		return err
	}

	if e.Email == "" {
		log.Printf("[Notifier] No email for order %s, user %s", e.OrderNumber, e.UserID)
		return nil
	}

	items := make([]email.OrderItem, len(e.Items))
	for i, item := range e.Items {
		items[i] = email.OrderItem{
			ProductID: item.ProductID,
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
	}

	if err := h.mailer.SendOrderConfirmation(e.Email, e.OrderNumber, e.TotalAmount, items); err != nil {
		log.Printf("[Notifier] Failed to send email to %s: %v", e.Email, err)
		return err
	}

	log.Printf("[Notifier] Order confirmation email sent to %s for order %s", e.Email, e.OrderNumber)
	return nil
}

func (h *Handler) handleStatusChanged(event store.Event) error {
	var e order.OrderStatusChanged
	if err := json.Unmarshal(event.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderStatusChanged event: %v", err)
		return err
	}

	if e.Email == "" {
		return nil
	}

	label := lifecycle.Label(e.To)
	if err := h.mailer.SendStatusUpdate(e.Email, e.OrderNumber, label); err != nil {
		log.Printf("[Notifier] Failed to send status email to %s: %v", e.Email, err)
		return err
	}

	log.Printf("[Notifier] Status email (%s) sent to %s for order %s", e.To, e.Email, e.OrderNumber)
	return nil
}
