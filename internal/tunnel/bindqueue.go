package tunnel

import "net"

// dataChannelDelivery is what the data-channel matcher hands off to a
// waiting flow dispatcher once it has matched an incoming data channel to
// a bind id (spec.md §4.5).
type dataChannelDelivery struct {
	clientID string
	conn     net.Conn
	remote   net.Addr
}

// bindSlot is the one-shot rendezvous described in spec.md §3/§9: at most
// one producer write (deliver), a consumer that either receives the
// delivered value or observes cancellation (evict), after which the slot
// is gone from the queue either way. ch is buffered 1 so deliver never
// blocks the control loop; closing ch without sending is how eviction
// signals "give up" to the consumer without it needing a second channel.
type bindSlot struct {
	ch chan dataChannelDelivery
}

// bindQueue is the server-side map bind_id -> bindSlot (spec.md §3/§4.5).
// Per spec.md §5 it has a single writer: the control loop goroutine. None
// of bindQueue's methods take a lock -- callers are responsible for only
// ever calling them from that one goroutine.
type bindQueue struct {
	entries map[string]*bindSlot
}

func newBindQueue() *bindQueue {
	return &bindQueue{entries: make(map[string]*bindSlot)}
}

// register inserts a fresh bindSlot for bindID and returns it.
func (q *bindQueue) register(bindID string) *bindSlot {
	slot := &bindSlot{ch: make(chan dataChannelDelivery, 1)}
	q.entries[bindID] = slot
	return slot
}

// deliver transfers d into the slot registered under bindID and removes
// the entry. Reports false (a no-op) if bindID is not present -- either
// it was never registered (a forged/miss bind id, spec.md §4.5 "Miss") or
// it already raced with evict and lost (spec.md §4.5 "the loser is a
// no-op").
func (q *bindQueue) deliver(bindID string, d dataChannelDelivery) bool {
	slot, ok := q.entries[bindID]
	if !ok {
		return false
	}
	delete(q.entries, bindID)
	slot.ch <- d
	close(slot.ch)
	return true
}

// evict removes bindID's entry, if still present, and closes its channel
// without sending -- the consumer's receive returns the zero value with
// ok=false, which it must treat as "give up" (spec.md §4.4 step 6),
// rather than the panic-on-dropped-oneshot the original Rust consumer
// would hit (original_source/src/server/node_server.rs calls
// `rx.await.unwrap()`); a closed, empty Go channel is a safe, idiomatic
// way to express the same "producer gone" signal. Reports whether an
// entry was actually evicted.
func (q *bindQueue) evict(bindID string) bool {
	slot, ok := q.entries[bindID]
	if !ok {
		return false
	}
	delete(q.entries, bindID)
	close(slot.ch)
	return true
}

// len reports how many binds are currently awaiting a match.
func (q *bindQueue) len() int { return len(q.entries) }
