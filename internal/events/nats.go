package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yegors/flighttrack/internal/flights"
	"github.com/yegors/flighttrack/pkg/logger"
)

// conn is the part of *nats.Conn the publisher uses
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes flight events as JSON to "<subject>.<event type>"
type NATSPublisher struct {
	conn    conn
	subject string
	logger  *logger.Logger
}

// NewNATSPublisher connects to url. The connection reconnects on its own;
// publishes while disconnected are buffered by the client.
func NewNATSPublisher(url, subject string, log *logger.Logger) (*NATSPublisher, error) {
	l := log.Named("nats")
	nc, err := nats.Connect(url,
		nats.Name("flighttrack"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn("Disconnected from NATS", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info("Reconnected to NATS", logger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	l.Info("Connected to NATS", logger.String("url", nc.ConnectedUrl()), logger.String("subject", subject))
	return newNATSPublisher(nc, subject, l), nil
}

func newNATSPublisher(c conn, subject string, log *logger.Logger) *NATSPublisher {
	return &NATSPublisher{conn: c, subject: subject, logger: log}
}

// PublishFlightEvent implements flights.EventPublisher
func (p *NATSPublisher) PublishFlightEvent(_ context.Context, ev flights.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal flight event: %w", err)
	}
	subject := p.subject + "." + string(ev.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.logger.Debug("Published flight event",
		logger.String("subject", subject),
		logger.String("icao", ev.ICAO),
		logger.Int64("flight_id", ev.FlightID))
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
