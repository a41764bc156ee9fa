// Package subscriber implements the Bus Subscriber: one durable JetStream
// consumer per data type, deserializing, normalizing field aliases, and
// enqueueing into the Batch Queue Manager. It follows the teacher's
// pkg/worker lifecycle shape (Config struct, stopCh-guarded goroutines per
// subsystem) generalized from one gRPC connection to one NATS connection
// shared by N per-type consumers.
package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/marketprism/storage-engine/pkg/events"
	"github.com/marketprism/storage-engine/pkg/log"
	"github.com/marketprism/storage-engine/pkg/metrics"
	"github.com/marketprism/storage-engine/pkg/types"
)

// Enqueuer is the Batch Queue Manager contract the subscriber feeds.
// EnqueueAwaitFlush is the stronger variant that blocks until the record's
// batch has actually been written, used for data types opted into
// ack-after-flush (spec.md §4.6, §9).
type Enqueuer interface {
	Enqueue(ctx context.Context, r types.Record) error
	EnqueueAwaitFlush(ctx context.Context, r types.Record) error
}

// Publisher is the Event Broker contract the Subscriber raises bus
// connectivity transitions on. Satisfied by *events.Broker.
type Publisher interface {
	Publish(event *events.Event)
}

// Config configures the bus connection and consumer behavior.
type Config struct {
	URLs        []string
	StreamName  string
	DurablePrefix string
	AckWait     time.Duration
	MaxInFlight int
	// AckAfterFlush selects, per spec.md §4.6, the stronger delivery mode
	// for specific types; absent entries default to ack-on-enqueue.
	AckAfterFlush map[types.DataType]bool
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = "MARKET_DATA"
	}
	if c.DurablePrefix == "" {
		c.DurablePrefix = "storage-service"
	}
	if c.AckWait == 0 {
		c.AckWait = 60 * time.Second
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = 2000
	}
	return c
}

// Subscriber owns one JetStream connection and a durable consumer per data
// type.
type Subscriber struct {
	cfg      Config
	enqueuer Enqueuer
	pub      Publisher

	conn *nats.Conn
	js   nats.JetStreamContext

	subs   []*nats.Subscription
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SetPublisher wires the subscriber to raise bus disconnect/reconnect
// events (spec.md §7, §8). Optional; a nil publisher keeps it silent.
func (s *Subscriber) SetPublisher(pub Publisher) {
	s.pub = pub
}

// New connects to the bus and prepares (but does not yet start) per-type
// consumers.
func New(cfg Config, enqueuer Enqueuer) (*Subscriber, error) {
	cfg = cfg.withDefaults()

	// s is constructed before dialing so the reconnect callbacks below can
	// read s.pub; SetPublisher is always called (if at all) only after New
	// returns, and those callbacks only fire for connection events after the
	// initial synchronous dial here completes.
	s := &Subscriber{cfg: cfg, enqueuer: enqueuer, stopCh: make(chan struct{})}

	conn, err := nats.Connect(joinURLs(cfg.URLs),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithComponent("subscriber").Warn().Err(err).Msg("bus disconnected; reconnecting")
			if s.pub != nil {
				s.pub.Publish(events.New(events.EventBusDisconnected, fmt.Sprintf("bus disconnected: %v", err)))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.WithComponent("subscriber").Info().Msg("bus reconnected; consumers resume from last-acked position")
			if s.pub != nil {
				s.pub.Publish(events.New(events.EventBusReconnected, "bus reconnected"))
			}
		}),
	)
	if err != nil {
		return nil, types.NewStoreError(types.KindBusPermanent, "", fmt.Errorf("connect to bus: %w", err))
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, types.NewStoreError(types.KindBusPermanent, "", fmt.Errorf("open jetstream context: %w", err))
	}

	s.conn, s.js = conn, js
	return s, nil
}

func joinURLs(urls []string) string {
	out := ""
	for i, u := range urls {
		if i > 0 {
			out += ","
		}
		out += u
	}
	return out
}

// Start binds a durable consumer for every data type in types.AllDataTypes.
func (s *Subscriber) Start(ctx context.Context) error {
	for _, dt := range types.AllDataTypes {
		if err := s.startConsumer(ctx, dt); err != nil {
			return fmt.Errorf("start consumer for %s: %w", dt, err)
		}
	}
	return nil
}

func (s *Subscriber) startConsumer(ctx context.Context, dt types.DataType) error {
	subject := fmt.Sprintf("%s.>", dt)
	durable := fmt.Sprintf("%s-%s-consumer", s.cfg.DurablePrefix, dt)

	sub, err := s.js.Subscribe(subject, func(msg *nats.Msg) {
		s.handleMessage(ctx, dt, msg)
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckWait(s.cfg.AckWait),
		nats.DeliverLast(),
		nats.MaxAckPending(s.cfg.MaxInFlight),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) handleMessage(ctx context.Context, dt types.DataType, msg *nats.Msg) {
	metrics.MessagesReceived.WithLabelValues(string(dt)).Inc()

	var body map[string]any
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		metrics.MessagesRejected.WithLabelValues(string(dt), "invalid_json").Inc()
		log.WithDataType(string(dt)).Warn().Err(err).Msg("rejecting non-JSON message")
		_ = msg.Term() // permanent NACK: never redeliver malformed bodies
		return
	}

	normalize(dt, body)

	record, err := toRecord(dt, msg.Subject, body)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues(string(dt), "malformed_envelope").Inc()
		log.WithDataType(string(dt)).Warn().Err(err).Msg("rejecting malformed record envelope")
		_ = msg.Term()
		return
	}

	if !s.cfg.AckAfterFlush[dt] {
		if err := s.enqueuer.Enqueue(ctx, record); err != nil {
			log.WithDataType(string(dt)).Error().Err(err).Msg("enqueue failed; leaving message unacked for redelivery")
			return
		}
		_ = msg.Ack()
		return
	}

	// ack-after-flush: hold the message until this type's batch has
	// actually been written, via the queue's completion-tracked Enqueue
	// variant, rather than acking as soon as the record is merely admitted
	// to the queue.
	if err := s.enqueuer.EnqueueAwaitFlush(ctx, record); err != nil {
		log.WithDataType(string(dt)).Error().Err(err).Msg("flush failed under ack-after-flush; leaving unacked for redelivery")
		return
	}
	_ = msg.Ack()
}

// Connected reports whether the underlying bus connection is currently up,
// for the Admin Facade's status endpoint.
func (s *Subscriber) Connected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Stop unsubscribes every consumer and closes the bus connection.
func (s *Subscriber) Stop() {
	close(s.stopCh)
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
	s.conn.Close()
}
