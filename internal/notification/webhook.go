package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookNotifier posts messages as JSON to a relay that forwards them over
// SMS or iMessage.
type WebhookNotifier struct {
	url     string
	timeout time.Duration
}

// NewWebhookNotifier builds a notifier posting to url.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{url: url, timeout: timeout}
}

// Send posts the message and treats any non-2xx status as a transport failure.
func (n *WebhookNotifier) Send(ctx context.Context, message Message) error {
	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: %v", ErrTransport, context.DeadlineExceeded)
	}

	agent := fiber.Post(n.url).JSON(message).Timeout(timeout)
	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrTransport, errs[0])
	}
	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
		return fmt.Errorf("%w: relay returned %d: %s", ErrTransport, status, truncate(string(body), 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
