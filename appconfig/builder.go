package appconfig

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
)

// GenericUIDField is the placeholder replaced by the per-build unique id.
const GenericUIDField = "GENERIC_UID"

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

type rawParameter struct {
	Replace string  `yaml:"replace"`
	Default *string `yaml:"default"`
}

type rawObject struct {
	UID    string `yaml:"uid"`
	Type   string `yaml:"type"`
	Mode   string `yaml:"mode"`
	Config any    `yaml:"config"`
}

type rawBinding struct {
	Key      string `yaml:"key"`
	UID      string `yaml:"uid"`
	Access   string `yaml:"access"`
	Optional bool   `yaml:"optional"`
}

type rawService struct {
	UID      string       `yaml:"uid"`
	Type     string       `yaml:"type"`
	Worker   string       `yaml:"worker"`
	In       []rawBinding `yaml:"in"`
	InOut    []rawBinding `yaml:"inout"`
	Out      []rawBinding `yaml:"out"`
	Bindings []rawBinding `yaml:"bindings"`
	Config   any          `yaml:"config"`
}

type rawEndpoint struct {
	UID  string `yaml:"uid"`
	Name string `yaml:"name"`
}

type rawConnection struct {
	Channel string        `yaml:"channel"`
	Signal  *rawEndpoint  `yaml:"signal"`
	Signals []rawEndpoint `yaml:"signals"`
	Slot    *rawEndpoint  `yaml:"slot"`
	Slots   []rawEndpoint `yaml:"slots"`
}

type rawConfig struct {
	ID          string          `yaml:"id"`
	Parameters  []rawParameter  `yaml:"parameters"`
	Objects     []rawObject     `yaml:"objects"`
	Services    []rawService    `yaml:"services"`
	Connections []rawConnection `yaml:"connections"`
	Connect     []rawConnection `yaml:"connect"`
}

type buildOptions struct {
	fields     map[string]string
	autoPrefix bool
	genericUID string
}

// Option configures Build.
type Option func(*buildOptions)

// WithFields supplies values for ${NAME} placeholders.
func WithFields(fields map[string]string) Option {
	return func(o *buildOptions) {
		if o.fields == nil {
			o.fields = make(map[string]string, len(fields))
		}
		for k, v := range fields {
			o.fields[k] = v
		}
	}
}

// WithAutoPrefix prefixes every uid declared by the configuration, and every
// reference to it, with the generic uid so that several instances of the
// same template can coexist in one object registry.
func WithAutoPrefix() Option {
	return func(o *buildOptions) { o.autoPrefix = true }
}

// WithGenericUID fixes the value of ${GENERIC_UID} instead of generating one.
func WithGenericUID(uid string) Option {
	return func(o *buildOptions) { o.genericUID = uid }
}

// Substitute replaces ${NAME} placeholders found in fields. Unknown
// placeholders are left untouched.
func Substitute(raw []byte, fields map[string]string) []byte {
	return placeholderRe.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(placeholderRe.FindSubmatch(m)[1])
		if v, ok := fields[name]; ok {
			return []byte(v)
		}
		return m
	})
}

func configError(format string, args ...any) error {
	return errors.Configf("appconfig", "Build", format, args...)
}

// Build parses a YAML or JSON configuration into a Model.
func Build(raw []byte, opts ...Option) (*Model, error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.genericUID == "" {
		o.genericUID = uuid.NewString()
	}

	params, err := parseParameters(raw)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{GenericUIDField: o.genericUID}
	for k, v := range o.fields {
		fields[k] = v
	}
	for _, p := range params {
		if _, ok := fields[p.Replace]; ok {
			continue
		}
		if p.Default == nil {
			return nil, configError("parameter %q has no default and no value", p.Replace)
		}
		fields[p.Replace] = *p.Default
	}

	text := Substitute(raw, fields)
	if m := placeholderRe.Find(text); m != nil {
		return nil, configError("unresolved placeholder %s", m)
	}

	var doc any
	if err := yaml.Unmarshal(text, &doc); err != nil {
		return nil, configError("parse: %v", err)
	}
	if doc == nil {
		return nil, configError("empty configuration")
	}
	if err := validateSchema(doc); err != nil {
		return nil, configError("%v", err)
	}

	var rc rawConfig
	if err := yaml.Unmarshal(text, &rc); err != nil {
		return nil, configError("decode: %v", err)
	}

	return convert(rc, o)
}

// parseParameters reads the parameters section. Placeholders are masked first
// because unsubstituted values may not be valid YAML yet.
func parseParameters(raw []byte) ([]rawParameter, error) {
	masked := placeholderRe.ReplaceAll(raw, []byte("placeholder"))
	var rc struct {
		Parameters []rawParameter `yaml:"parameters"`
	}
	if err := yaml.Unmarshal(masked, &rc); err != nil {
		return nil, configError("parse: %v", err)
	}
	for _, p := range rc.Parameters {
		if p.Replace == "" {
			return nil, configError("parameter without replace name")
		}
	}
	return rc.Parameters, nil
}

func toJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, configError("config block: %v", err)
	}
	return b, nil
}

func convert(rc rawConfig, o buildOptions) (*Model, error) {
	m := &Model{ID: rc.ID, GenericUID: o.genericUID}
	seen := make(map[string]string)

	claim := func(uid, what string) error {
		if prev, ok := seen[uid]; ok {
			return configError("duplicate uid %q (%s and %s)", uid, prev, what)
		}
		seen[uid] = what
		return nil
	}

	for i, ro := range rc.Objects {
		if ro.UID == "" || ro.Type == "" {
			return nil, configError("object %d: uid and type are mandatory", i)
		}
		mode := Mode(ro.Mode)
		switch mode {
		case "":
			mode = ModeNew
		case ModeNew, ModeExisting, ModeDeferred:
		default:
			return nil, configError("object %q: unknown mode %q", ro.UID, ro.Mode)
		}
		if err := claim(ro.UID, "object"); err != nil {
			return nil, err
		}
		cfg, err := toJSON(ro.Config)
		if err != nil {
			return nil, err
		}
		m.Objects = append(m.Objects, ObjectDecl{UID: ro.UID, Type: ro.Type, Mode: mode, Config: cfg, Index: i})
	}

	for i, rs := range rc.Services {
		if rs.Type == "" {
			return nil, configError("service %d: type is mandatory", i)
		}
		decl := ServiceDecl{UID: rs.UID, Type: rs.Type, Worker: rs.Worker, Index: i}
		if decl.UID == "" {
			decl.UID = "srv-" + uuid.NewString()
			decl.Generated = true
		}
		if err := claim(decl.UID, "service"); err != nil {
			return nil, err
		}

		bindings, err := convertBindings(decl.UID, rs)
		if err != nil {
			return nil, err
		}
		decl.Bindings = bindings

		if decl.Config, err = toJSON(rs.Config); err != nil {
			return nil, err
		}
		m.Services = append(m.Services, decl)
	}

	for _, rconn := range append(rc.Connections, rc.Connect...) {
		tuples, err := expandConnection(rconn)
		if err != nil {
			return nil, err
		}
		m.Connections = append(m.Connections, tuples...)
	}

	if o.autoPrefix {
		applyPrefix(m, seen)
	}

	for i := range m.Services {
		for _, c := range m.Connections {
			if c.Involves(m.Services[i].UID) {
				m.Services[i].Connections = append(m.Services[i].Connections, c)
			}
		}
	}
	return m, nil
}

func convertBindings(uid string, rs rawService) ([]Binding, error) {
	var out []Binding
	keys := make(map[string]bool)

	add := func(rb rawBinding, access data.Access) error {
		if rb.Key == "" || rb.UID == "" {
			return configError("service %q: binding needs key and uid", uid)
		}
		if keys[rb.Key] {
			return configError("service %q: duplicate binding key %q", uid, rb.Key)
		}
		keys[rb.Key] = true
		out = append(out, Binding{Key: rb.Key, ObjectUID: rb.UID, Access: access, Optional: rb.Optional})
		return nil
	}

	sections := []struct {
		list   []rawBinding
		access data.Access
	}{{rs.In, data.AccessIn}, {rs.InOut, data.AccessInOut}, {rs.Out, data.AccessOut}}
	for _, sec := range sections {
		for _, rb := range sec.list {
			if err := add(rb, sec.access); err != nil {
				return nil, err
			}
		}
	}

	for _, rb := range rs.Bindings {
		access, ok := data.ParseAccess(strings.ToLower(rb.Access))
		if !ok {
			return nil, configError("service %q: binding %q has no valid access mode (%q)", uid, rb.Key, rb.Access)
		}
		if err := add(rb, access); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func expandConnection(rc rawConnection) ([]ProxyConnectionDecl, error) {
	if rc.Channel == "" {
		return nil, configError("connection without channel")
	}
	signals := rc.Signals
	if rc.Signal != nil {
		signals = append([]rawEndpoint{*rc.Signal}, signals...)
	}
	slots := rc.Slots
	if rc.Slot != nil {
		slots = append([]rawEndpoint{*rc.Slot}, slots...)
	}
	if len(signals) == 0 || len(slots) == 0 {
		return nil, configError("channel %q needs at least one signal and one slot", rc.Channel)
	}

	out := make([]ProxyConnectionDecl, 0, len(signals)*len(slots))
	for _, sig := range signals {
		for _, sl := range slots {
			if sig.UID == "" || sig.Name == "" || sl.UID == "" || sl.Name == "" {
				return nil, configError("channel %q: endpoints need uid and name", rc.Channel)
			}
			out = append(out, ProxyConnectionDecl{
				Channel:     rc.Channel,
				EmitterUID:  sig.UID,
				SignalName:  sig.Name,
				ReceiverUID: sl.UID,
				SlotName:    sl.Name,
			})
		}
	}
	return out, nil
}

func applyPrefix(m *Model, declared map[string]string) {
	p := func(uid string) string {
		if _, ok := declared[uid]; ok {
			return m.GenericUID + "_" + uid
		}
		return uid
	}
	for i := range m.Objects {
		m.Objects[i].UID = p(m.Objects[i].UID)
	}
	for i := range m.Services {
		s := &m.Services[i]
		s.UID = p(s.UID)
		for j := range s.Bindings {
			s.Bindings[j].ObjectUID = p(s.Bindings[j].ObjectUID)
		}
	}
	for i := range m.Connections {
		c := &m.Connections[i]
		c.EmitterUID = p(c.EmitterUID)
		c.ReceiverUID = p(c.ReceiverUID)
	}
}
