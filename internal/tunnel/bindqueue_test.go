package tunnel

import "testing"

func TestBindQueueDeliverThenEvictIsNoOp(t *testing.T) {
	q := newBindQueue()
	slot := q.register("bind-1")

	if !q.deliver("bind-1", dataChannelDelivery{clientID: "client1"}) {
		t.Fatal("deliver should succeed for a registered bind id")
	}
	if q.evict("bind-1") {
		t.Fatal("evict after deliver must be a no-op")
	}
	if q.len() != 0 {
		t.Fatalf("queue should be empty, has %d entries", q.len())
	}

	d, ok := <-slot.ch
	if !ok || d.clientID != "client1" {
		t.Fatalf("got %+v, ok=%v", d, ok)
	}
}

func TestBindQueueEvictThenDeliverIsNoOp(t *testing.T) {
	q := newBindQueue()
	slot := q.register("bind-2")

	if !q.evict("bind-2") {
		t.Fatal("evict should succeed for a registered bind id")
	}
	if q.deliver("bind-2", dataChannelDelivery{}) {
		t.Fatal("deliver after evict must be a no-op")
	}

	_, ok := <-slot.ch
	if ok {
		t.Fatal("consumer should observe a closed channel after eviction")
	}
}

func TestBindQueueMissIsNoOp(t *testing.T) {
	q := newBindQueue()
	if q.deliver("nonexistent", dataChannelDelivery{}) {
		t.Fatal("deliver for an unregistered bind id must report false")
	}
	if q.evict("nonexistent") {
		t.Fatal("evict for an unregistered bind id must report false")
	}
}
