package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flowarb/arbitrage-core/internal/observability"
)

// BackpressurePolicy controls what the bus does when a subscriber's queue
// is full.
type BackpressurePolicy int

const (
	// Block waits until the subscriber has room. Guarantees delivery but
	// can stall the publisher behind one slow subscriber.
	Block BackpressurePolicy = iota
	// DropOldest evicts the subscriber's oldest queued envelope to make
	// room for the new one.
	DropOldest
	// DropNewest discards the envelope being published for this
	// subscriber, leaving its queue untouched.
	DropNewest
)

// PublishOutcome reports, per publish call, how many subscribers were
// actually delivered to versus dropped.
type PublishOutcome struct {
	Delivered                int
	DroppedDueToBackpressure int
}

// subscriber carries its own lock because Publish no longer dispatches
// under the bus registry lock: a concurrent Unsubscribe must not close ch
// while a send to it is in flight. sendMu is read-locked for the duration
// of a send and write-locked by Unsubscribe around the close, so the two
// never race; closed lets dispatchChan skip a subscriber that won the race
// to unsubscribe first instead of sending into a closed channel.
type subscriber struct {
	ch     chan Envelope
	policy BackpressurePolicy
	fn     func(Envelope)
	logger *observability.Logger

	sendMu  sync.RWMutex
	closed  bool
	dropped uint64
}

// Bus is a typed, non-blocking-by-default publish/subscribe fan-out for
// Envelopes. Each subscriber gets its own bounded queue and backpressure
// policy; a panicking subscriber never affects another, and neither does a
// slow one under DropOldest or DropNewest (a Block-policy subscriber with a
// full queue holds up delivery to the subscribers after it). Publish
// calls are serialized under publishMu, which is what gives
// per-(venue,instrument) ordering: every subscriber observes envelopes in
// the same relative order they were published, including envelopes that
// share a Key(). publishMu is held only for the dispatch loop itself — the
// registry lock mu guards the subscriber map and is released before any
// send, so a Block-policy subscriber stalling on a full queue never holds
// up Subscribe, Unsubscribe or SubscriberCount, only a subsequent Publish.
type Bus struct {
	mu        sync.Mutex
	publishMu sync.Mutex
	subs      map[int64]*subscriber
	nextID    int64
	logger    *observability.Logger
}

// NewBus creates an empty bus ready for use.
func NewBus(logger *observability.Logger) *Bus {
	return &Bus{subs: make(map[int64]*subscriber), logger: logger}
}

// Subscribe registers a channel-based subscriber with the given buffer size
// and backpressure policy. The caller must read from the returned channel
// and eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int, policy BackpressurePolicy) (id int64, ch <-chan Envelope) {
	c := make(chan Envelope, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id = b.nextID
	b.subs[id] = &subscriber{ch: c, policy: policy, logger: b.logger}
	return id, c
}

// SubscribeFunc registers a synchronous callback subscriber. fn is invoked
// inline during Publish, under panic recovery, so one broken subscriber
// cannot take down the publisher or other subscribers.
func (b *Bus) SubscribeFunc(fn func(Envelope)) (id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id = b.nextID
	b.subs[id] = &subscriber{fn: fn, logger: b.logger}
	return id
}

// Unsubscribe removes a subscriber and closes its channel, if any.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if !ok || sub.ch == nil {
		return
	}
	sub.sendMu.Lock()
	sub.closed = true
	close(sub.ch)
	sub.sendMu.Unlock()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers env to every subscriber according to each subscriber's
// backpressure policy, and returns an aggregate outcome. The subscriber
// list is snapshotted under the registry lock and then released before any
// send runs, so a Block-policy subscriber blocked on a full queue holds up
// this and any later Publish call but never Subscribe/Unsubscribe/
// SubscriberCount.
func (b *Bus) Publish(env Envelope) PublishOutcome {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	snapshot := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	var out PublishOutcome
	for _, sub := range snapshot {
		if sub.fn != nil {
			b.dispatchFunc(sub, env)
			out.Delivered++
			continue
		}
		if b.dispatchChan(sub, env) {
			out.Delivered++
		} else {
			out.DroppedDueToBackpressure++
		}
	}
	return out
}

func (b *Bus) dispatchFunc(sub *subscriber, env Envelope) {
	defer func() {
		if r := recover(); r != nil && sub.logger != nil {
			sub.logger.Error(context.Background(), "event bus subscriber panicked", nil, map[string]interface{}{
				"recovered": r,
				"kind":      string(env.Kind),
			})
		}
	}()
	sub.fn(env)
}

// dispatchChan holds the subscriber's own read lock for the duration of the
// send, not the bus registry lock, so a slow or blocked send here never
// holds up Subscribe/Unsubscribe/SubscriberCount. A Block-policy send on a
// full queue does hold up delivery to the subscribers after this one in the
// same Publish, and any later Publish. An Unsubscribe racing this call either completes first (seen
// as closed==true here, delivery skipped) or waits for this send to finish
// before it closes the channel.
func (b *Bus) dispatchChan(sub *subscriber, env Envelope) bool {
	sub.sendMu.RLock()
	defer sub.sendMu.RUnlock()
	if sub.closed {
		return false
	}
	switch sub.policy {
	case Block:
		sub.ch <- env
		return true
	case DropNewest:
		select {
		case sub.ch <- env:
			return true
		default:
			atomic.AddUint64(&sub.dropped, 1)
			return false
		}
	case DropOldest:
		for {
			select {
			case sub.ch <- env:
				return true
			default:
				select {
				case <-sub.ch:
					atomic.AddUint64(&sub.dropped, 1)
				default:
					return false
				}
			}
		}
	default:
		return false
	}
}
