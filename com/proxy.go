package com

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/IRCAD/sight-sub074/errors"
)

// Mesh connects signals to slots through named channels. Every signal joined
// to a channel reaches every slot joined to the same channel.
type Mesh interface {
	Connect(channel string, emitter HasSignals, signal string, receiver HasSlots, slot string) error
	Disconnect(channel string, emitter HasSignals, signal string, receiver HasSlots, slot string) error
}

// Resolve looks up the signal and slot a mesh connection refers to.
func Resolve(emitter HasSignals, signal string, receiver HasSlots, slot string) (*Signal, *Slot, error) {
	if emitter == nil || receiver == nil {
		return nil, nil, fmt.Errorf("%w: nil endpoint", errors.ErrUnknownEndpoint)
	}
	sig, ok := emitter.Signal(signal)
	if !ok {
		return nil, nil, fmt.Errorf("%w: signal %q", errors.ErrUnknownEndpoint, signal)
	}
	sl, ok := receiver.Slot(slot)
	if !ok {
		return nil, nil, fmt.Errorf("%w: slot %q", errors.ErrUnknownEndpoint, slot)
	}
	return sig, sl, nil
}

// channel holds the members of one proxy channel. Membership is reference
// counted because several connection tuples may share a signal or a slot.
type channel struct {
	relay   *Slot
	signals map[*Signal]int
	slots   map[*Slot]int
	order   []*Slot
}

func (c *channel) fanOut(ctx context.Context, payload any, mu *sync.RWMutex) error {
	mu.RLock()
	targets := make([]*Slot, len(c.order))
	copy(targets, c.order)
	mu.RUnlock()

	var errs []error
	for _, t := range targets {
		if err := t.Invoke(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Proxy is the in-process Mesh.
type Proxy struct {
	mu       sync.RWMutex
	channels map[string]*channel
}

// NewProxy creates an empty proxy.
func NewProxy() *Proxy {
	return &Proxy{channels: make(map[string]*channel)}
}

// Connect joins the signal and the slot to channel.
func (p *Proxy) Connect(name string, emitter HasSignals, signal string, receiver HasSlots, slot string) error {
	sig, sl, err := Resolve(emitter, signal, receiver, slot)
	if err != nil {
		return errors.WrapInvalid(err, "Proxy", "Connect", fmt.Sprintf("channel %s", name))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[name]
	if !ok {
		ch = &channel{signals: make(map[*Signal]int), slots: make(map[*Slot]int)}
		ch.relay = NewSlot("proxy:"+name, func(ctx context.Context, payload any) error {
			return ch.fanOut(ctx, payload, &p.mu)
		})
		p.channels[name] = ch
	}

	if ch.signals[sig] == 0 {
		sig.Connect(ch.relay)
	}
	ch.signals[sig]++

	if ch.slots[sl] == 0 {
		ch.order = append(ch.order, sl)
	}
	ch.slots[sl]++
	return nil
}

// Disconnect releases one reference on the signal and the slot.
func (p *Proxy) Disconnect(name string, emitter HasSignals, signal string, receiver HasSlots, slot string) error {
	sig, sl, err := Resolve(emitter, signal, receiver, slot)
	if err != nil {
		return errors.WrapInvalid(err, "Proxy", "Disconnect", fmt.Sprintf("channel %s", name))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[name]
	if !ok || ch.signals[sig] == 0 || ch.slots[sl] == 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: %s -> %s on %s", errors.ErrNotConnected, signal, slot, name),
			"Proxy", "Disconnect", "lookup connection")
	}

	ch.signals[sig]--
	if ch.signals[sig] == 0 {
		delete(ch.signals, sig)
		sig.Disconnect(ch.relay)
	}

	ch.slots[sl]--
	if ch.slots[sl] == 0 {
		delete(ch.slots, sl)
		for i, s := range ch.order {
			if s == sl {
				ch.order = append(ch.order[:i:i], ch.order[i+1:]...)
				break
			}
		}
	}

	if len(ch.signals) == 0 && len(ch.slots) == 0 {
		delete(p.channels, name)
	}
	return nil
}

// Channels returns the number of live channels.
func (p *Proxy) Channels() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.channels)
}
