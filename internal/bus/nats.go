package bus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NATSConfig configures a NATS bus.
type NATSConfig struct {
	URL     string
	Subject string
	Node    string
	Name    string
}

// NATS fans room emissions out over a core NATS subject. Every node
// subscribes to the same subject and skips envelopes it published itself.
type NATS struct {
	nc      *nats.Conn
	subject string
	node    string
	log     *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// Connect dials NATS with unlimited reconnects.
func Connect(cfg NATSConfig, log *zap.Logger) (*NATS, error) {
	if cfg.Subject == "" {
		return nil, errors.New("nats subject missing")
	}
	if cfg.Node == "" {
		return nil, errors.New("nats node id missing")
	}

	log = log.Named("bus").With(zap.String("node", cfg.Node))
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats %s", cfg.URL)
	}

	return &NATS{nc: nc, subject: cfg.Subject, node: cfg.Node, log: log}, nil
}

// Publish sends env stamped with this node's id. It does not wait for delivery.
func (n *NATS) Publish(env Envelope) error {
	env.Node = n.node
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	return errors.Wrap(n.nc.Publish(n.subject, data), "publish envelope")
}

// Subscribe delivers envelopes published by other nodes to handler. Only one
// subscription is allowed per bus.
func (n *NATS) Subscribe(handler func(Envelope)) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub != nil {
		return errors.New("bus already subscribed")
	}

	sub, err := n.nc.Subscribe(n.subject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			n.log.Warn("dropping undecodable envelope", zap.Error(err))
			return
		}
		if env.Node == n.node {
			return
		}
		handler(env)
	})
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", n.subject)
	}
	n.sub = sub
	return nil
}

// Close drains the subscription and the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}
