// Package natsproxy implements com.Mesh over NATS subjects so that signals and
// slots joined to the same channel may live in different processes.
//
// Each channel maps to the subject "<prefix>.<channel>". A signal joined to a
// channel publishes every emission there as a JSON envelope; a slot joined to
// it receives every envelope published on the subject, whatever process it
// came from. Payloads therefore cross the mesh as their JSON form: structs
// arrive as map[string]any and numbers as float64.
package natsproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/IRCAD/sight-sub074/com"
	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/natsclient"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "sight.proxy"

// Conn is the part of natsclient.Client the mesh needs.
type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (natsclient.Subscription, error)
}

// Envelope is the wire form of one emission.
type Envelope struct {
	Origin  string          `json:"origin"`
	Channel string          `json:"channel"`
	Signal  string          `json:"signal"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type forwarder struct {
	relay *com.Slot
	refs  int
}

type receiver struct {
	sub  natsclient.Subscription
	refs int
}

type signalKey struct {
	channel string
	signal  *com.Signal
}

type slotKey struct {
	channel string
	slot    *com.Slot
}

// Mesh is the NATS-backed com.Mesh. Connections are reference counted per
// (channel, signal) and per (channel, slot) exactly like the in-process proxy.
type Mesh struct {
	conn   Conn
	prefix string
	origin string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	forwarders map[signalKey]*forwarder
	receivers  map[slotKey]*receiver
}

// Option configures a Mesh.
type Option func(*Mesh)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(m *Mesh) {
		if prefix = strings.Trim(prefix, "."); prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mesh) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a mesh publishing and subscribing through conn.
func New(conn Conn, opts ...Option) *Mesh {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mesh{
		conn:       conn,
		prefix:     DefaultPrefix,
		origin:     uuid.NewString(),
		logger:     slog.Default(),
		ctx:        ctx,
		cancel:     cancel,
		forwarders: make(map[signalKey]*forwarder),
		receivers:  make(map[slotKey]*receiver),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "natsproxy", "origin", m.origin)
	return m
}

// Origin identifies this mesh instance in published envelopes.
func (m *Mesh) Origin() string {
	return m.origin
}

// Subject returns the subject a channel maps to.
func (m *Mesh) Subject(channel string) string {
	return m.prefix + "." + channel
}

// Connect joins the signal and the slot to channel.
func (m *Mesh) Connect(channel string, emitter com.HasSignals, signal string, recv com.HasSlots, slot string) error {
	sig, sl, err := com.Resolve(emitter, signal, recv, slot)
	if err != nil {
		return errors.WrapInvalid(err, "Mesh", "Connect", fmt.Sprintf("channel %s", channel))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rk := slotKey{channel, sl}
	r, ok := m.receivers[rk]
	if !ok {
		sub, err := m.conn.Subscribe(m.ctx, m.Subject(channel), m.deliver(channel, sl))
		if err != nil {
			return errors.WrapTransient(err, "Mesh", "Connect", "subscribe "+m.Subject(channel))
		}
		r = &receiver{sub: sub}
		m.receivers[rk] = r
	}
	r.refs++

	fk := signalKey{channel, sig}
	f, ok := m.forwarders[fk]
	if !ok {
		f = &forwarder{relay: com.NewSlot("nats:"+channel, m.forward(channel, sig.Name()))}
		sig.Connect(f.relay)
		m.forwarders[fk] = f
	}
	f.refs++
	return nil
}

// Disconnect releases one reference on the signal and the slot.
func (m *Mesh) Disconnect(channel string, emitter com.HasSignals, signal string, recv com.HasSlots, slot string) error {
	sig, sl, err := com.Resolve(emitter, signal, recv, slot)
	if err != nil {
		return errors.WrapInvalid(err, "Mesh", "Disconnect", fmt.Sprintf("channel %s", channel))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fk := signalKey{channel, sig}
	rk := slotKey{channel, sl}
	f, fok := m.forwarders[fk]
	r, rok := m.receivers[rk]
	if !fok || !rok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s -> %s on %s", errors.ErrNotConnected, signal, slot, channel),
			"Mesh", "Disconnect", "lookup connection")
	}

	f.refs--
	if f.refs == 0 {
		sig.Disconnect(f.relay)
		delete(m.forwarders, fk)
	}

	r.refs--
	if r.refs == 0 {
		delete(m.receivers, rk)
		if err := r.sub.Unsubscribe(); err != nil {
			return errors.WrapTransient(err, "Mesh", "Disconnect", "unsubscribe "+m.Subject(channel))
		}
	}
	return nil
}

// Close drops every subscription and forwarder.
func (m *Mesh) Close() error {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for k, r := range m.receivers {
		if err := r.sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
		delete(m.receivers, k)
	}
	for k, f := range m.forwarders {
		k.signal.Disconnect(f.relay)
		delete(m.forwarders, k)
	}
	if len(errs) > 0 {
		return errors.Wrap(fmt.Errorf("%d subscriptions failed to close: %w", len(errs), errs[0]), "Mesh", "Close", "unsubscribe")
	}
	return nil
}

// Subscriptions returns the number of live subject subscriptions.
func (m *Mesh) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receivers)
}

func (m *Mesh) forward(channel, signal string) com.Handler {
	return func(ctx context.Context, payload any) error {
		env := Envelope{Origin: m.origin, Channel: channel, Signal: signal}
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return errors.WrapInvalid(err, "Mesh", "forward", "encode payload for "+channel)
			}
			env.Payload = raw
		}
		data, err := json.Marshal(env)
		if err != nil {
			return errors.WrapInvalid(err, "Mesh", "forward", "encode envelope")
		}
		if err := m.conn.Publish(ctx, m.Subject(channel), data); err != nil {
			return errors.WrapTransient(err, "Mesh", "forward", "publish "+m.Subject(channel))
		}
		return nil
	}
}

func (m *Mesh) deliver(channel string, slot *com.Slot) func(context.Context, []byte) {
	return func(ctx context.Context, data []byte) {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.logger.Warn("Dropping malformed envelope", "channel", channel, "error", err)
			return
		}
		var payload any
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				m.logger.Warn("Dropping malformed payload", "channel", channel, "error", err)
				return
			}
		}
		if err := slot.Invoke(ctx, payload); err != nil {
			m.logger.Error("Slot failed", "channel", channel, "slot", slot.Name(), "signal", env.Signal, "error", err)
		}
	}
}
