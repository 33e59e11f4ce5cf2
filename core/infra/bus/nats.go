package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wetbench/wetbench/core/infra/logging"
)

var (
	errNilBus    = errors.New("nats bus not initialized")
	errNoType    = errors.New("lock event has no type")
	errNoSubject = errors.New("empty subject")
)

// NatsPublisher publishes lock events as JSON over NATS.
type NatsPublisher struct {
	nc *nats.Conn
}

// NewNatsPublisher dials NATS at the provided URL.
func NewNatsPublisher(url string) (*NatsPublisher, error) {
	opts := []nats.Option{
		nats.Name("wetbench-locks"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from NATS", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NatsPublisher{nc: nc}, nil
}

// PublishLockEvent sends a JSON-encoded event on locks.<type>.
func (p *NatsPublisher) PublishLockEvent(ev LockEvent) error {
	if p == nil || p.nc == nil {
		return errNilBus
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(SubjectFor(ev.Type), data)
}

// Subscribe attaches a handler for lock events of the given type. A wildcard
// subscription across all lock events uses SubjectFor("*").
func (p *NatsPublisher) Subscribe(subject string, handler func(LockEvent)) (*nats.Subscription, error) {
	if p == nil || p.nc == nil {
		return nil, errNilBus
	}
	if subject == "" {
		return nil, errNoSubject
	}
	return p.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev LockEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logging.Warn("bus", "drop undecodable lock event", "subject", msg.Subject, "err", err)
			return
		}
		handler(ev)
	})
}

// Close shuts down the underlying NATS connection.
func (p *NatsPublisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}

func encodeEvent(ev LockEvent) ([]byte, error) {
	if ev.Type == "" {
		return nil, errNoType
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return json.Marshal(ev)
}
