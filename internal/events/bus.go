// Package events implements the process-wide broadcast bus used for
// inter-component signalling: EventHandler publishes protocol events onto
// it, ChannelOpener polls it waiting for FundingGenerationReady, and a
// tenant's own runtime-operation handlers (ListChannels and friends) can
// subscribe for live updates. Anything that needs durability is persisted
// instead (spec §5).
package events

import "sync"

// BufferSize is the bounded buffer used for every subscriber channel. A
// slow subscriber whose buffer is full misses each new event published
// while it stays full, rather than stalling the publisher.
const BufferSize = 256

// Event is published on the bus. Kind identifies the payload's shape so
// subscribers that only care about one or two kinds can filter cheaply
// without a type switch on every delivery.
type Event struct {
	Kind      Kind
	TenantID  string
	Payload   interface{}
}

// Kind enumerates the protocol events EventHandler re-publishes, plus the
// Broadcaster's own TransactionBroadcast event.
type Kind int

const (
	KindUnknown Kind = iota
	KindFundingGenerationReady
	KindPaymentReceived
	KindPaymentSent
	KindPaymentFailed
	KindPaymentForwarded
	KindPendingHTLCsForwardable
	KindSpendableOutputs
	KindChannelClosed
	KindDiscardFunding
	KindOpenChannelRequest
	KindTransactionBroadcast
)

type subscriber struct {
	id int
	ch chan Event
}

// Bus is a broadcast channel shared by every tenant in the process. Publish
// never blocks: a subscriber that can't keep up loses events rather than
// stalling the sender, matching spec §5's "loss of a slow subscriber is
// acceptable" policy.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID int
}

// New returns an empty, ready-to-use Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a new receiver and returns its channel plus a cancel
// function that unregisters it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, BufferSize)
	b.subs = append(b.subs, subscriber{id: id, ch: ch})

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				close(s.ch)
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}

	return ch, cancel
}

// Publish fans the event out to every current subscriber. A subscriber
// whose buffer is full is skipped for this event rather than blocking the
// publisher (this runs on protocol-library callback goroutines, which must
// not await per spec §5).
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}
