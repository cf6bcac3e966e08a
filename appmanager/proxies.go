package appmanager

import (
	"log/slog"
	"sync"

	"github.com/IRCAD/sight-sub074/appconfig"
	"github.com/IRCAD/sight-sub074/com"
)

// Hint overrides the endpoint handle used to disconnect a connection whose
// endpoint uid matches. It is needed when the tracked handle is no longer the
// one registered under that uid.
type Hint struct {
	UID    string
	Handle any
}

type trackedConnection struct {
	decl     appconfig.ProxyConnectionDecl
	emitter  com.HasSignals
	receiver com.HasSlots
}

// ProxyTracker records every connection made on the mesh on behalf of one
// manager so that each one is disconnected exactly once.
type ProxyTracker struct {
	mesh   com.Mesh
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*trackedConnection
	order []string

	connects    int
	disconnects int
}

// NewProxyTracker creates a tracker over mesh.
func NewProxyTracker(mesh com.Mesh, logger *slog.Logger) *ProxyTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyTracker{
		mesh:   mesh,
		logger: logger,
		conns:  make(map[string]*trackedConnection),
	}
}

// ConnectProxy connects decl on channel. It is idempotent per exact tuple and
// reports whether a new connection was made. Mesh failures are logged and the
// tuple is not recorded.
func (t *ProxyTracker) ConnectProxy(channel string, decl appconfig.ProxyConnectionDecl,
	emitter com.HasSignals, receiver com.HasSlots) (bool, error) {
	decl.Channel = channel
	key := decl.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.conns[key]; ok {
		return false, nil
	}

	if err := t.mesh.Connect(channel, emitter, decl.SignalName, receiver, decl.SlotName); err != nil {
		t.logger.Error("Proxy connection failed", "connection", decl.String(), "error", err)
		return false, err
	}

	t.conns[key] = &trackedConnection{decl: decl, emitter: emitter, receiver: receiver}
	t.order = append(t.order, key)
	t.connects++
	t.logger.Debug("Proxy connected", "connection", decl.String())
	return true, nil
}

// DestroyProxy disconnects exactly the matching connection and reports
// whether one was tracked.
func (t *ProxyTracker) DestroyProxy(channel string, decl appconfig.ProxyConnectionDecl, hints ...Hint) bool {
	decl.Channel = channel

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.destroyLocked(decl.Key(), hints)
}

func (t *ProxyTracker) destroyLocked(key string, hints []Hint) bool {
	c, ok := t.conns[key]
	if !ok {
		return false
	}
	delete(t.conns, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}

	emitter, receiver := c.emitter, c.receiver
	for _, h := range hints {
		if h.UID == c.decl.EmitterUID {
			if e, ok := h.Handle.(com.HasSignals); ok {
				emitter = e
			}
		}
		if h.UID == c.decl.ReceiverUID {
			if r, ok := h.Handle.(com.HasSlots); ok {
				receiver = r
			}
		}
	}

	t.disconnects++
	if err := t.mesh.Disconnect(c.decl.Channel, emitter, c.decl.SignalName, receiver, c.decl.SlotName); err != nil {
		t.logger.Error("Proxy disconnection failed", "connection", c.decl.String(), "error", err)
	} else {
		t.logger.Debug("Proxy disconnected", "connection", c.decl.String())
	}
	return true
}

// DestroyInvolving disconnects every connection with uid as an endpoint,
// most recent first, and returns their declarations.
func (t *ProxyTracker) DestroyInvolving(uid string, hints ...Hint) []appconfig.ProxyConnectionDecl {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []appconfig.ProxyConnectionDecl
	for i := len(t.order) - 1; i >= 0; i-- {
		c := t.conns[t.order[i]]
		if c.decl.Involves(uid) {
			out = append(out, c.decl)
			t.destroyLocked(t.order[i], hints)
		}
	}
	return out
}

// DestroyAll disconnects every tracked connection, most recent first.
func (t *ProxyTracker) DestroyAll() []appconfig.ProxyConnectionDecl {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]appconfig.ProxyConnectionDecl, 0, len(t.order))
	for len(t.order) > 0 {
		key := t.order[len(t.order)-1]
		out = append(out, t.conns[key].decl)
		t.destroyLocked(key, nil)
	}
	return out
}

// Has reports whether decl is currently connected.
func (t *ProxyTracker) Has(decl appconfig.ProxyConnectionDecl) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.conns[decl.Key()]
	return ok
}

// Connections returns the tracked connections in connection order.
func (t *ProxyTracker) Connections() []appconfig.ProxyConnectionDecl {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]appconfig.ProxyConnectionDecl, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.conns[k].decl)
	}
	return out
}

// Len returns the number of tracked connections.
func (t *ProxyTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.conns)
}

// Counts returns how many connects and disconnects went through the tracker.
func (t *ProxyTracker) Counts() (connects, disconnects int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connects, t.disconnects
}
