package core

import "testing"

func TestObserversDeliverToAllSubscribers(t *testing.T) {
	o := NewObservers()
	a := o.SubscribeBlockAdded(1)
	b := o.SubscribeBlockAdded(1)

	ev := BlockAddedEvent{ID: Hash{7}, Height: 9}
	o.PublishBlockAdded(ev)

	gotA := <-a
	gotB := <-b
	if gotA != ev || gotB != ev {
		t.Fatalf("expected both subscribers to receive %+v, got %+v and %+v", ev, gotA, gotB)
	}
}

func TestObserversPublishIsNonBlockingOnFullBuffer(t *testing.T) {
	o := NewObservers()
	ch := o.SubscribeReorg(1)

	o.PublishReorg(ReorgEvent{DetachHeight: 1})
	o.PublishReorg(ReorgEvent{DetachHeight: 2}) // buffer full; must not block

	first := <-ch
	if first.DetachHeight != 1 {
		t.Fatalf("expected the first buffered event to survive, got %+v", first)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected the second event to have been dropped, got %+v", extra)
	default:
	}
}

func TestObserversPerTopicIsolation(t *testing.T) {
	o := NewObservers()
	pool := o.SubscribePoolChanged(1)
	transfers := o.SubscribeTransfersUpdated(1)

	o.PublishPoolChanged(PoolChangedEvent{ID: Hash{1}, Added: true})

	select {
	case got := <-pool:
		if !got.Added {
			t.Fatalf("expected Added=true, got %+v", got)
		}
	default:
		t.Fatal("expected the pool-changed subscriber to receive the event")
	}

	select {
	case got := <-transfers:
		t.Fatalf("expected the transfers-updated subscriber to receive nothing, got %+v", got)
	default:
	}
}
