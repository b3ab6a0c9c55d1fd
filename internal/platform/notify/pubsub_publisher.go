package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/carepoint-rx/api/internal/services"
)

const defaultPublishTimeout = 10 * time.Second

// Logger receives publish failures, which are never returned to callers.
type Logger func(ctx context.Context, event string, fields map[string]any)

// PubSubNotifier publishes notifications to a Pub/Sub topic without waiting for the server
// acknowledgement. Outstanding results are tracked so Close can drain them.
type PubSubNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	logger  Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewPubSubNotifier constructs a Pub/Sub backed notifier.
func NewPubSubNotifier(topic *pubsub.Topic, logger Logger) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PubSubNotifier{
		topic:   topic,
		marshal: json.Marshal,
		logger:  logger,
		timeout: defaultPublishTimeout,
	}, nil
}

// Notify implements services.Notifier. Only encoding failures are reported synchronously.
func (p *PubSubNotifier) Notify(ctx context.Context, n services.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notifier: not initialised")
	}

	data, err := p.marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := map[string]string{"kind": n.Kind}
	setAttr(attrs, "notificationId", n.ID)
	setAttr(attrs, "orderId", n.OrderID)
	setAttr(attrs, "prescriptionId", n.PrescriptionID)
	setAttr(attrs, "itemId", n.ItemID)
	setAttr(attrs, "recipient", n.Recipient)

	// The publish outlives the request, so it must not inherit request cancellation.
	publishCtx := context.WithoutCancel(ctx)
	result := p.topic.Publish(publishCtx, &pubsub.Message{Data: data, Attributes: attrs})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		waitCtx, cancel := context.WithTimeout(publishCtx, p.timeout)
		defer cancel()
		if _, err := result.Get(waitCtx); err != nil {
			p.logger(publishCtx, "notify.publish_failed", map[string]any{
				"kind":           n.Kind,
				"notificationId": n.ID,
				"error":          err.Error(),
			})
		}
	}()
	return nil
}

// Close waits for outstanding publishes and stops the topic's background goroutines.
func (p *PubSubNotifier) Close() {
	if p == nil {
		return
	}
	p.wg.Wait()
	p.topic.Stop()
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
