package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	domain "github.com/carepoint-rx/api/internal/domain"
)

// Notification kinds published on the notifications topic.
const (
	NotificationOutOfStock           = "stock.out_of_stock"
	NotificationLowStock             = "stock.low_stock"
	NotificationOrderStatusChanged   = "order.status_changed"
	NotificationOrderConfirmed       = "order.confirmed"
	NotificationPrescriptionVerified = "prescription.verified"
	NotificationPrescriptionRejected = "prescription.rejected"
)

// RecipientPharmacy addresses the pharmacy staff channel.
const RecipientPharmacy = "pharmacy"

// Notification is a fire-and-forget message to patients or staff.
type Notification struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	OrderID        string         `json:"orderId,omitempty"`
	PrescriptionID string         `json:"prescriptionId,omitempty"`
	ItemID         string         `json:"itemId,omitempty"`
	Recipient      string         `json:"recipient,omitempty"`
	Message        string         `json:"message,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) error { return nil }

// notifier stamps and dispatches notifications. Failures are logged and swallowed.
type notifier struct {
	target Notifier
	logger Logger
	clock  func() time.Time
}

func newNotifier(target Notifier, logger Logger, clock func() time.Time) notifier {
	if target == nil {
		target = noopNotifier{}
	}
	return notifier{target: target, logger: logger, clock: clock}
}

func (n notifier) send(ctx context.Context, msg Notification) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = n.clock()
	}
	if err := n.target.Notify(ctx, msg); err != nil {
		n.logger(ctx, "notification.failed", map[string]any{
			"kind":  msg.Kind,
			"id":    msg.ID,
			"error": err.Error(),
		})
	}
}

func (n notifier) statusChanged(ctx context.Context, order Order) {
	kind := NotificationOrderStatusChanged
	if order.Status == domain.OrderStatusConfirmed {
		kind = NotificationOrderConfirmed
	}
	n.send(ctx, Notification{
		Kind:      kind,
		OrderID:   order.ID,
		Recipient: order.PatientRef,
		Data: map[string]any{
			"orderNumber": order.OrderNumber,
			"status":      string(order.Status),
		},
	})
}
