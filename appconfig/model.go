// Package appconfig turns declarative application configurations into
// ordered object, service and connection declarations, and stores the
// configuration templates an application can be launched from.
package appconfig

import (
	"encoding/json"
	"fmt"

	"github.com/IRCAD/sight-sub074/data"
)

// Mode tells how an object declared by a configuration comes to life.
type Mode string

// Object creation modes.
const (
	// ModeNew objects are instantiated by the object factory.
	ModeNew Mode = "new"
	// ModeExisting objects must already be in the object registry at create time.
	ModeExisting Mode = "existing"
	// ModeDeferred objects are expected to appear in the registry later.
	ModeDeferred Mode = "deferred"
)

// ObjectDecl declares a data object.
type ObjectDecl struct {
	UID    string
	Type   string
	Mode   Mode
	Config json.RawMessage
	Index  int
}

// Binding is a named reference from a service to an object.
type Binding struct {
	Key       string
	ObjectUID string
	Access    data.Access
	Optional  bool
}

// Mandatory reports whether the binding blocks service creation. Output
// bindings are produced by the service itself and never block.
func (b Binding) Mandatory() bool {
	return !b.Optional && b.Access != data.AccessOut
}

// ProxyConnectionDecl connects one signal to one slot through a channel.
type ProxyConnectionDecl struct {
	Channel     string
	EmitterUID  string
	SignalName  string
	ReceiverUID string
	SlotName    string
}

// Key identifies the connection tuple.
func (c ProxyConnectionDecl) Key() string {
	return fmt.Sprintf("%s|%s.%s|%s.%s", c.Channel, c.EmitterUID, c.SignalName, c.ReceiverUID, c.SlotName)
}

// Involves reports whether uid is one of the endpoints.
func (c ProxyConnectionDecl) Involves(uid string) bool {
	return c.EmitterUID == uid || c.ReceiverUID == uid
}

func (c ProxyConnectionDecl) String() string {
	return fmt.Sprintf("%s: %s.%s -> %s.%s", c.Channel, c.EmitterUID, c.SignalName, c.ReceiverUID, c.SlotName)
}

// ServiceDecl declares a service.
type ServiceDecl struct {
	UID         string
	Type        string
	Worker      string
	Bindings    []Binding
	Config      json.RawMessage
	Connections []ProxyConnectionDecl
	Index       int
	Generated   bool
}

// MandatoryUIDs returns the distinct object uids the service cannot be
// created without, in binding order.
func (s ServiceDecl) MandatoryUIDs() []string {
	seen := make(map[string]bool, len(s.Bindings))
	var uids []string
	for _, b := range s.Bindings {
		if b.Mandatory() && !seen[b.ObjectUID] {
			seen[b.ObjectUID] = true
			uids = append(uids, b.ObjectUID)
		}
	}
	return uids
}

// BindingsOn returns the bindings referencing uid.
func (s ServiceDecl) BindingsOn(uid string) []Binding {
	var out []Binding
	for _, b := range s.Bindings {
		if b.ObjectUID == uid {
			out = append(out, b)
		}
	}
	return out
}

// Model is the parsed form of one configuration.
type Model struct {
	ID          string
	GenericUID  string
	Objects     []ObjectDecl
	Services    []ServiceDecl
	Connections []ProxyConnectionDecl
}

// Object returns the object declaration with the given uid.
func (m *Model) Object(uid string) (ObjectDecl, bool) {
	for _, o := range m.Objects {
		if o.UID == uid {
			return o, true
		}
	}
	return ObjectDecl{}, false
}

// Service returns the service declaration with the given uid.
func (m *Model) Service(uid string) (ServiceDecl, bool) {
	for _, s := range m.Services {
		if s.UID == uid {
			return s, true
		}
	}
	return ServiceDecl{}, false
}

// References reports whether any declaration of the model mentions uid.
func (m *Model) References(uid string) bool {
	for _, o := range m.Objects {
		if o.UID == uid {
			return true
		}
	}
	for _, s := range m.Services {
		if s.UID == uid {
			return true
		}
		for _, b := range s.Bindings {
			if b.ObjectUID == uid {
				return true
			}
		}
	}
	for _, c := range m.Connections {
		if c.Involves(uid) {
			return true
		}
	}
	return false
}
