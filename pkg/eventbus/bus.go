/*
Copyright 2026 The Mahavishnu Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package eventbus implements the lifecycle event fan-out (C7): a global
// channel plus per-pool channels, delivered to bounded per-subscriber
// queues with oldest-drop-and-lag-notice backpressure.
package eventbus

import (
	"sync"
	"time"
)

// GlobalChannel is the name of the channel that receives every event from
// every pool.
const GlobalChannel = "*"

// PoolChannel returns the channel name for a single pool's events.
func PoolChannel(poolID string) string {
	return "pool:" + poolID
}

// EventLagged is emitted to a subscriber in place of events dropped for
// backpressure.
const EventLagged = "subscription.lagged"

// Event is one published notification.
type Event struct {
	Type      string
	Channel   string
	Payload   map[string]any
	Sequence  uint64
	Timestamp time.Time
}

// DefaultQueueSize is the default bound on a subscriber's delivery queue.
const DefaultQueueSize = 1024

// Subscription is a single subscriber's view of a channel.
type Subscription struct {
	bus     *Bus
	channel string
	id      uint64
	events  chan Event
	closeMu sync.Mutex
	closed  bool
}

// Events returns the channel of delivered events. The channel is closed
// when Unsubscribe is called.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Unsubscribe releases the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bus.remove(s.channel, s.id)
	close(s.events)
}

func (s *Subscription) deliver(evt Event) {
	s.closeMu.Lock()
	closed := s.closed
	s.closeMu.Unlock()
	if closed {
		return
	}

	select {
	case s.events <- evt:
		return
	default:
	}

	// Queue full: drop the two oldest events to make room, then enqueue a
	// lag notice followed by evt. With a queue of one event only the notice
	// fits and evt is dropped. One subscriber's backpressure must never
	// delay delivery to others, so this never blocks.
	for i := 0; i < 2; i++ {
		select {
		case <-s.events:
		default:
		}
	}
	select {
	case s.events <- Event{
		Type:      EventLagged,
		Channel:   s.channel,
		Timestamp: evt.Timestamp,
		Payload:   map[string]any{"channel": s.channel},
	}:
	default:
	}
	select {
	case s.events <- evt:
	default:
	}
}

type channelState struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
	seq  uint64
}

// Bus is the event fan-out hub. The zero value is not usable; construct
// with New.
type Bus struct {
	mu        sync.Mutex
	channels  map[string]*channelState
	queueSize int
	nextID    uint64
	now       func() time.Time
}

// New constructs a Bus whose per-subscriber queues hold queueSize events
// (DefaultQueueSize if queueSize <= 0).
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		channels:  make(map[string]*channelState),
		queueSize: queueSize,
		now:       time.Now,
	}
}

func (b *Bus) channelState(name string) *channelState {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.channels[name]
	if !ok {
		cs = &channelState{subs: make(map[uint64]*Subscription)}
		b.channels[name] = cs
	}
	return cs
}

// Subscribe attaches to channel, which need not yet exist: subscribing to
// a pool channel before the pool is spawned is accepted and becomes
// active once events start publishing on it.
func (b *Bus) Subscribe(channel string) *Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.mu.Unlock()

	sub := &Subscription{
		bus:     b,
		channel: channel,
		id:      id,
		events:  make(chan Event, b.queueSize),
	}

	cs := b.channelState(channel)
	cs.mu.Lock()
	cs.subs[id] = sub
	cs.mu.Unlock()

	return sub
}

func (b *Bus) remove(channel string, id uint64) {
	cs := b.channelState(channel)
	cs.mu.Lock()
	delete(cs.subs, id)
	cs.mu.Unlock()
}

// Publish delivers evtType/payload to channel's subscribers and to the
// global channel's subscribers, each with its own per-channel sequence
// number. Publish never blocks on a slow subscriber.
func (b *Bus) Publish(channel, evtType string, payload map[string]any) {
	now := b.now()
	b.publishOn(channel, evtType, payload, now)
	if channel != GlobalChannel {
		b.publishOn(GlobalChannel, evtType, payload, now)
	}
}

func (b *Bus) publishOn(channel, evtType string, payload map[string]any, now time.Time) {
	cs := b.channelState(channel)

	cs.mu.Lock()
	seq := cs.seq
	cs.seq++
	subs := make([]*Subscription, 0, len(cs.subs))
	for _, s := range cs.subs {
		subs = append(subs, s)
	}
	cs.mu.Unlock()

	evt := Event{
		Type:      evtType,
		Channel:   channel,
		Payload:   payload,
		Sequence:  seq,
		Timestamp: now,
	}
	for _, s := range subs {
		s.deliver(evt)
	}
}
