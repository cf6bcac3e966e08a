// Package appmanager turns a parsed application configuration into a live
// graph of data objects and services.
//
// A Manager creates objects and services in declaration order, defers any
// service whose mandatory objects are not available yet, wires the proxy
// connections declared between them and drives everything through the
// create, start, update, stop and destroy lifecycle. Objects appearing in or
// disappearing from the object registry at runtime activate or tear down
// exactly the services that depend on them.
package appmanager

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/IRCAD/sight-sub074/appconfig"
	"github.com/IRCAD/sight-sub074/com"
	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/pkg/worker"
	"github.com/IRCAD/sight-sub074/service"
)

// DefaultStopTimeout bounds each service Stop call made during teardown.
const DefaultStopTimeout = 5 * time.Second

// State is the lifecycle state of a Manager.
type State int

// Manager states.
const (
	StateDestroyed State = iota
	StateCreated
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDestroyed:
		return "destroyed"
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dependencies are the collaborators a Manager works with.
type Dependencies struct {
	Services *service.Registry
	Objects  *data.Factory
	Registry data.Store
	Mesh     com.Mesh
	Configs  *appconfig.Registry
	Logger   *slog.Logger
	Metrics  *metric.MetricsRegistry
}

// Option configures a Manager.
type Option func(*Manager)

// WithAutoPrefix prefixes every uid declared by the configuration with its
// generic uid, so that several instances of one template can coexist.
func WithAutoPrefix() Option {
	return func(m *Manager) {
		m.autoPrefix = true
	}
}

// WithStopTimeout sets the timeout passed to each service Stop call.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.stopTimeout = d
		}
	}
}

type createdObject struct {
	object data.Object
	owned  bool
}

type createdService struct {
	decl    appconfig.ServiceDecl
	srv     service.Service
	running bool
	// bound holds the object each binding key currently refers to
	bound map[string]data.Object
}

// Manager owns the objects, services and proxy connections of one
// configuration. All lifecycle operations and object notifications are
// serialized on one mutex in arrival order.
type Manager struct {
	deps        Dependencies
	logger      *slog.Logger
	metrics     *metric.Metrics
	autoPrefix  bool
	stopTimeout time.Duration

	mu       sync.Mutex
	state    State
	model    *appconfig.Model
	configID string
	gen      uint64
	runCtx   context.Context
	updated  bool
	removing string

	objects     map[string]*createdObject
	objectOrder []string
	preExisting map[string]data.Object

	services     []*createdService
	serviceByUID map[string]*createdService
	started      []*createdService

	deferred            map[string]*deferredEntry
	deferredUIDs        []string
	deferredStartOrder  []string
	deferredUpdateOrder []string

	proxies        *ProxyTracker
	workers        map[string]*worker.Worker
	notifier       *worker.Worker
	unsubscribe    func()
	selfRegistered sync.Map
}

// New creates a Manager in the destroyed state. Missing collaborators are
// replaced by empty in-memory defaults.
func New(deps Dependencies, opts ...Option) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Services == nil {
		deps.Services = service.NewRegistry()
	}
	if deps.Objects == nil {
		deps.Objects = data.NewFactory(true)
	}
	if deps.Registry == nil {
		deps.Registry = data.NewRegistry()
	}
	if deps.Mesh == nil {
		deps.Mesh = com.NewProxy()
	}
	if deps.Configs == nil {
		deps.Configs = appconfig.NewRegistry(deps.Logger)
	}

	m := &Manager{
		deps:         deps,
		logger:       deps.Logger.With("component", "appmanager"),
		stopTimeout:  DefaultStopTimeout,
		runCtx:       context.Background(),
		objects:      make(map[string]*createdObject),
		preExisting:  make(map[string]data.Object),
		serviceByUID: make(map[string]*createdService),
		deferred:     make(map[string]*deferredEntry),
		workers:      make(map[string]*worker.Worker),
	}
	if deps.Metrics != nil {
		m.metrics = deps.Metrics.CoreMetrics()
	}
	for _, opt := range opts {
		opt(m)
	}
	m.proxies = NewProxyTracker(deps.Mesh, m.logger)
	return m
}

// SetConfig builds the model of the registered configuration template id
// with fields substituted. It is only legal before Create.
func (m *Manager) SetConfig(id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDestroyed {
		return m.stateError("SetConfig")
	}

	var opts []appconfig.Option
	if m.autoPrefix {
		opts = append(opts, appconfig.WithAutoPrefix())
	}
	model, err := m.deps.Configs.Adapted(id, fields, opts...)
	if err != nil {
		return errors.Wrap(err, "Manager", "SetConfig", "adapt configuration "+id)
	}
	m.setModelLocked(model)
	return nil
}

// SetModel installs an already built model. It is only legal before Create.
func (m *Manager) SetModel(model *appconfig.Model) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDestroyed {
		return m.stateError("SetModel")
	}
	if model == nil {
		return errors.Configf("Manager", "SetModel", "nil model")
	}
	m.setModelLocked(model)
	return nil
}

func (m *Manager) setModelLocked(model *appconfig.Model) {
	m.model = model
	m.configID = model.ID
	m.logger = m.deps.Logger.With("component", "appmanager", "config", model.ID)
	m.proxies.logger = m.logger
}

// ConfigRoot returns the model the manager was configured with.
func (m *Manager) ConfigRoot() *appconfig.Model {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.model
}

// AddExistingDeferredObject makes obj available under uid before Create,
// as if it were present in the object registry.
func (m *Manager) AddExistingDeferredObject(obj data.Object, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDestroyed {
		return m.stateError("AddExistingDeferredObject")
	}
	if obj == nil || uid == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: object and uid are required", errors.ErrConfig),
			"Manager", "AddExistingDeferredObject", "validate object")
	}
	m.preExisting[uid] = obj
	return nil
}

// Create instantiates the configuration: objects first, then every service
// whose mandatory objects are available, then the proxy connections whose
// endpoints are live. Any failure rolls back what was created.
func (m *Manager) Create() error {
	m.mu.Lock()
	start := time.Now()
	err := m.createLocked()
	var workers []*worker.Worker
	switch {
	case err == nil:
		m.recordTransition("create", start)
	case m.state == StateDestroyed:
		workers = m.detachWorkers()
	}
	m.mu.Unlock()

	m.stopWorkers(workers)
	return err
}

func (m *Manager) createLocked() error {
	if m.state != StateDestroyed {
		return m.stateError("Create")
	}
	if m.model == nil {
		return errors.Configf("Manager", "Create", "no configuration set")
	}

	m.gen++
	if err := m.subscribe(m.gen); err != nil {
		return err
	}

	for _, decl := range m.model.Objects {
		if err := m.createObject(decl); err != nil {
			_ = m.teardownLocked()
			return err
		}
	}

	for _, decl := range m.model.Services {
		if missing := m.missingMandatory(decl); len(missing) > 0 {
			m.logger.Debug("Service deferred", "service", decl.UID, "missing", missing)
			m.fileService(decl, missing)
			continue
		}
		if _, err := m.createService(decl); err != nil {
			_ = m.teardownLocked()
			return err
		}
	}

	for _, c := range m.model.Connections {
		m.tryConnect(c)
	}

	m.state = StateCreated
	m.logger.Info("Configuration created",
		"services", len(m.services), "deferred", len(m.deferredUIDs), "connections", m.proxies.Len())
	m.recordCounts()
	return nil
}

// subscribe routes registry notifications through a serial worker so that
// they never run while the manager lock is held by the notifying goroutine.
func (m *Manager) subscribe(gen uint64) error {
	notifier, err := worker.NewWorker(context.Background(), "notify-"+m.configID, m.logger)
	if err != nil {
		return errors.WrapTransient(err, "Manager", "Create", "start notification worker")
	}
	m.notifier = notifier

	m.unsubscribe = m.deps.Registry.Subscribe(func(ev data.Event) {
		if ev.Kind == data.ObjectAdded {
			if _, self := m.selfRegistered.Load(ev.UID); self {
				return
			}
		}
		err := notifier.Execute(context.Background(), func(context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()

			if m.gen != gen {
				return nil
			}
			switch ev.Kind {
			case data.ObjectAdded:
				return m.addObjectLocked(ev.Object, ev.UID)
			case data.ObjectRemoved:
				m.removeObjectLocked(ev.UID)
			}
			return nil
		})
		if err != nil {
			m.logger.Debug("Registry notification dropped", "event", ev.Kind.String(), "uid", ev.UID, "error", err)
		}
	})
	return nil
}

func (m *Manager) createObject(decl appconfig.ObjectDecl) error {
	switch decl.Mode {
	case appconfig.ModeExisting:
		if _, ok := m.lookupObject(decl.UID); !ok {
			return errors.WrapInvalid(fmt.Errorf("%w: %w: %s", errors.ErrConfig, errors.ErrMissingObject, decl.UID),
				"Manager", "Create", "resolve existing object")
		}
		return nil
	case appconfig.ModeDeferred:
		m.lookupObject(decl.UID)
		return nil
	}

	obj, err := m.deps.Objects.New(decl.Type, decl.Config)
	if err != nil {
		return err
	}
	if init, ok := obj.(data.Initializer); ok {
		if err := init.Initialize(m.runCtx); err != nil {
			return errors.WrapFatal(err, "Manager", "Create", "initialize object "+decl.UID)
		}
	}

	m.selfRegistered.Store(decl.UID, struct{}{})
	if err := m.deps.Registry.Register(decl.UID, obj); err != nil {
		m.selfRegistered.Delete(decl.UID)
		return errors.WrapInvalid(err, "Manager", "Create", "register object "+decl.UID)
	}
	m.recordObject(decl.UID, obj, true)
	return nil
}

// createService instantiates decl, binds every available object and calls
// Create. The caller has established that its mandatory bindings resolve.
func (m *Manager) createService(decl appconfig.ServiceDecl) (*createdService, error) {
	exec, err := m.workerFor(decl.Worker)
	if err != nil {
		return nil, err
	}
	deps := &service.Dependencies{
		UID:     decl.UID,
		Type:    decl.Type,
		Logger:  m.logger,
		Worker:  exec,
		Publish: m.publisher(decl),
	}
	if m.deps.Metrics != nil {
		deps.MetricsRegistry = m.deps.Metrics
	}

	srv, err := m.deps.Services.New(deps)
	if err != nil {
		return nil, err
	}

	bound := make(map[string]data.Object)
	for _, b := range decl.Bindings {
		if obj, ok := m.lookupObject(b.ObjectUID); ok {
			bind(srv, b, obj)
			bound[b.Key] = obj
		}
	}

	if err := srv.Create(decl.Config); err != nil {
		return nil, errors.Wrap(err, "Manager", "createService", "create service "+decl.UID)
	}

	cs := &createdService{decl: decl, srv: srv, bound: bound}
	m.services = append(m.services, cs)
	m.serviceByUID[decl.UID] = cs
	m.logger.Debug("Service created", "service", decl.UID, "type", decl.Type)
	return cs, nil
}

// sameObject compares objects by identity, treating dynamic types that
// cannot be compared as distinct.
func sameObject(a, b data.Object) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	return ta == reflect.TypeOf(b) && ta.Comparable() && a == b
}

func bind(srv service.Service, b appconfig.Binding, obj data.Object) {
	switch b.Access {
	case data.AccessIn:
		srv.SetInput(b.Key, obj)
	case data.AccessInOut:
		srv.SetInOut(b.Key, obj)
	case data.AccessOut:
		srv.SetOutput(b.Key, obj)
	}
}

// workerFor returns the named worker, starting it on first use. Services
// without a worker run their slots inline.
func (m *Manager) workerFor(name string) (worker.Executor, error) {
	if name == "" {
		return nil, nil
	}
	if w, ok := m.workers[name]; ok {
		return w, nil
	}
	var opts []worker.Option[func(context.Context) error]
	if m.deps.Metrics != nil {
		opts = append(opts, worker.WithMetricsRegistry[func(context.Context) error](m.deps.Metrics, workerMetrics(name)))
	}
	w, err := worker.NewWorker(context.Background(), name, m.logger, opts...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Manager", "Create", "start worker "+name)
	}
	m.workers[name] = w
	return w, nil
}

func workerMetrics(name string) string {
	return metricName("sight_worker_" + name)
}

func metricName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, s)
}

// publisher lets a service make its outputs available in the object
// registry. It never takes the manager lock: the registry notification
// reaches the manager through the notification worker.
func (m *Manager) publisher(decl appconfig.ServiceDecl) service.Publisher {
	outputs := make(map[string]string)
	for _, b := range decl.Bindings {
		if b.Access == data.AccessOut {
			outputs[b.Key] = b.ObjectUID
		}
	}
	registry := m.deps.Registry
	return func(key string, obj data.Object) error {
		uid, ok := outputs[key]
		if !ok {
			return errors.WrapInvalid(fmt.Errorf("%w: no output bound to key %q", errors.ErrConfig, key),
				"Manager", "Publish", "resolve output "+decl.UID)
		}
		if obj == nil {
			registry.Unregister(uid)
			return nil
		}
		return registry.Register(uid, obj)
	}
}

// Destroy tears everything down in reverse creation order. It is legal from
// the created and stopped states. Every step runs even when some fail; the
// failures are returned joined and classified as teardown failures.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	if m.state != StateCreated && m.state != StateStopped {
		defer m.mu.Unlock()
		return m.stateError("Destroy")
	}
	start := time.Now()
	err := m.teardownLocked()
	workers := m.detachWorkers()
	m.recordTransition("destroy", start)
	m.mu.Unlock()

	m.stopWorkers(workers)
	return err
}

// StopAndDestroy stops the manager when started and destroys it when not
// already destroyed, tolerating failures in either phase.
func (m *Manager) StopAndDestroy(timeout time.Duration) error {
	m.mu.Lock()
	var errs []error
	if m.state == StateStarted {
		errs = append(errs, m.stopLocked(timeout))
	}
	var workers []*worker.Worker
	if m.state != StateDestroyed {
		start := time.Now()
		errs = append(errs, m.teardownLocked())
		workers = m.detachWorkers()
		m.recordTransition("destroy", start)
	}
	m.mu.Unlock()

	m.stopWorkers(workers)
	return stderrors.Join(errs...)
}

func (m *Manager) teardownLocked() error {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}

	var errs []error
	for i := len(m.services) - 1; i >= 0; i-- {
		cs := m.services[i]
		if cs.running {
			if err := cs.srv.Stop(m.stopTimeout); err != nil {
				errs = append(errs, m.teardownFailure("stop", cs.decl.UID, err))
			}
			cs.running = false
		}
		m.proxies.DestroyInvolving(cs.decl.UID)
		if err := cs.srv.Destroy(); err != nil {
			errs = append(errs, m.teardownFailure("destroy", cs.decl.UID, err))
		}
		m.releaseMetrics(cs.decl.UID)
	}
	m.proxies.DestroyAll()

	for i := len(m.objectOrder) - 1; i >= 0; i-- {
		uid := m.objectOrder[i]
		if co := m.objects[uid]; co != nil && co.owned {
			m.deps.Registry.Unregister(uid)
			m.selfRegistered.Delete(uid)
		}
	}

	m.objects = make(map[string]*createdObject)
	m.preExisting = make(map[string]data.Object)
	m.objectOrder = nil
	m.services = nil
	m.serviceByUID = make(map[string]*createdService)
	m.started = nil
	m.deferred = make(map[string]*deferredEntry)
	m.deferredUIDs = nil
	m.deferredStartOrder = nil
	m.deferredUpdateOrder = nil
	m.updated = false
	m.state = StateDestroyed
	m.recordCounts()

	if len(errs) > 0 {
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrTeardown, stderrors.Join(errs...)),
			"Manager", "Destroy", "teardown")
	}
	m.logger.Info("Configuration destroyed")
	return nil
}

func (m *Manager) teardownFailure(phase, uid string, err error) error {
	m.logger.Error("Teardown step failed", "phase", phase, "service", uid, "error", err)
	if m.metrics != nil {
		m.metrics.RecordTeardownFailure(m.configID, phase)
	}
	return fmt.Errorf("%s %s: %w", phase, uid, err)
}

// detachWorkers hands the running workers to the caller, which stops them
// once the manager lock is released.
func (m *Manager) detachWorkers() []*worker.Worker {
	var workers []*worker.Worker
	if m.notifier != nil {
		workers = append(workers, m.notifier)
		m.notifier = nil
	}
	for name, w := range m.workers {
		workers = append(workers, w)
		delete(m.workers, name)
		m.releaseMetrics(workerMetrics(name))
	}
	return workers
}

func (m *Manager) stopWorkers(workers []*worker.Worker) {
	for _, w := range workers {
		if err := w.Stop(m.stopTimeout); err != nil {
			m.logger.Warn("Worker did not stop cleanly", "worker", w.Name(), "error", err)
		}
	}
}

func (m *Manager) stateError(op string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s while %s", errors.ErrInvalidState, op, m.state),
		"Manager", op, "check state")
}
