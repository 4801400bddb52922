// Package hermes connects to the NATS bus and publishes audit events.
package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/concierge/internal/audit"
)

// SubjectAuditPrefix prefixes every audit subject; the action is appended.
const SubjectAuditPrefix = "concierge.audit."

type publisher interface {
	Publish(subject string, data []byte) error
}

type Client struct {
	conn   *nats.Conn
	pub    publisher
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("concierge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, pub: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.pub.Publish(subject, payload)
}

// Record publishes e on concierge.audit.<action>.
func (c *Client) Record(_ context.Context, e audit.Entry) error {
	if err := c.Publish(AuditSubject(e.Action), e); err != nil {
		return fmt.Errorf("publish audit %s: %w", e.Action, err)
	}
	return nil
}

// AuditSubject maps an action to its subject. Characters NATS treats as
// wildcards or separators are replaced.
func AuditSubject(action string) string {
	r := strings.NewReplacer(" ", "_", "*", "_", ">", "_")
	action = r.Replace(strings.TrimSpace(action))
	if action == "" {
		action = "unknown"
	}
	return SubjectAuditPrefix + action
}

func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
