package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/service"
)

// Recorder builds RecordingServices that share one Journal and one set of
// injected failures.
type Recorder struct {
	Journal *Journal

	mu       sync.Mutex
	failures map[string]error
	services map[string]*RecordingService
}

// NewRecorder creates a recorder with an empty journal.
func NewRecorder() *Recorder {
	return &Recorder{
		Journal:  &Journal{},
		failures: make(map[string]error),
		services: make(map[string]*RecordingService),
	}
}

// Fail makes the given lifecycle phase of uid return err.
// Phases are create, start, update, stop, destroy and swap.
func (r *Recorder) Fail(phase, uid string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[phase+":"+uid] = err
}

// Heal removes an injected failure.
func (r *Recorder) Heal(phase, uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, phase+":"+uid)
}

func (r *Recorder) failure(phase, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[phase+":"+uid]
}

// Service returns the last service built for uid.
func (r *Recorder) Service(uid string) (*RecordingService, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[uid]
	return s, ok
}

// Register registers the recording constructor under every type name.
func (r *Recorder) Register(reg *service.Registry, types ...string) error {
	for _, t := range types {
		if err := reg.Register(t, r.Constructor()); err != nil {
			return err
		}
	}
	return nil
}

// Constructor returns a service constructor producing RecordingServices.
func (r *Recorder) Constructor() service.Constructor {
	return func(deps *service.Dependencies) (service.Service, error) {
		if err := r.failure("new", deps.UID); err != nil {
			return nil, err
		}
		s := &RecordingService{Base: service.NewBase(deps), rec: r}
		s.AddSignal(data.SignalModified)
		s.AddSlot("update", func(_ context.Context, payload any) error {
			s.Received.Add(1)
			r.Journal.Record("slot", deps.UID)
			s.lastPayload.Store(payload)
			return nil
		})

		r.mu.Lock()
		r.services[deps.UID] = s
		r.mu.Unlock()
		return s, nil
	}
}

// RecordingService journals each lifecycle call before delegating to Base.
type RecordingService struct {
	*service.Base
	rec *Recorder

	Received    atomic.Int32
	lastPayload atomic.Value
}

// LastPayload returns the last payload received on the update slot.
func (s *RecordingService) LastPayload() any {
	return s.lastPayload.Load()
}

// Create implements service.Service.
func (s *RecordingService) Create(cfg json.RawMessage) error {
	s.rec.Journal.Record("create", s.ID())
	if err := s.rec.failure("create", s.ID()); err != nil {
		return err
	}
	return s.Base.Create(cfg)
}

// Start implements service.Service.
func (s *RecordingService) Start(ctx context.Context) error {
	s.rec.Journal.Record("start", s.ID())
	if err := s.rec.failure("start", s.ID()); err != nil {
		return err
	}
	return s.Base.Start(ctx)
}

// Update implements service.Service.
func (s *RecordingService) Update(ctx context.Context) error {
	s.rec.Journal.Record("update", s.ID())
	if err := s.rec.failure("update", s.ID()); err != nil {
		return err
	}
	return s.Base.Update(ctx)
}

// Stop implements service.Service. An injected failure is reported after
// the service has stopped.
func (s *RecordingService) Stop(timeout time.Duration) error {
	s.rec.Journal.Record("stop", s.ID())
	err := s.Base.Stop(timeout)
	if injected := s.rec.failure("stop", s.ID()); injected != nil {
		return injected
	}
	return err
}

// Destroy implements service.Service. An injected failure is reported after
// the service has been destroyed.
func (s *RecordingService) Destroy() error {
	s.rec.Journal.Record("destroy", s.ID())
	err := s.Base.Destroy()
	if injected := s.rec.failure("destroy", s.ID()); injected != nil {
		return injected
	}
	return err
}

// Swap implements service.Swapper.
func (s *RecordingService) Swap(_ context.Context, key string, obj data.Object) error {
	state := "nil"
	if obj != nil {
		state = "set"
	}
	s.rec.Journal.Record("swap", fmt.Sprintf("%s.%s=%s", s.ID(), key, state))
	return s.rec.failure("swap", s.ID())
}
