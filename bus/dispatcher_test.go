package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantpulse/go-venuefeed/domain"
)

func tradeEvent(agent string, ts int64) domain.Event {
	return &domain.TradeEvent{
		EventHeader: domain.EventHeader{
			Agent:     agent,
			Type:      domain.KindTrade,
			Symbol:    "BTC-USDT",
			Timestamp: ts,
		},
	}
}

func TestPublish_DeliversInOrder(t *testing.T) {
	d := NewDispatcher(16, zap.NewNop())
	sub := d.Register("sink", BoundedBlock(time.Second))

	for i := int64(1); i <= 5; i++ {
		d.Publish(tradeEvent("binance:all", i))
	}

	for i := int64(1); i <= 5; i++ {
		select {
		case ev := <-sub.Stream:
			assert.Equal(t, i, ev.(*domain.TradeEvent).Timestamp)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestPublish_FansOutToAllConsumers(t *testing.T) {
	d := NewDispatcher(16, zap.NewNop())
	a := d.Register("a", BoundedBlock(time.Second))
	b := d.Register("b", DropOldest())

	d.Publish(tradeEvent("binance:all", 1))

	for _, sub := range []<-chan domain.Event{a.Stream, b.Stream} {
		select {
		case ev := <-sub:
			assert.Equal(t, domain.KindTrade, ev.EventType())
		case <-time.After(time.Second):
			t.Fatal("consumer did not receive the event")
		}
	}
}

func TestDropOldest_EvictsHeadWhenFull(t *testing.T) {
	d := NewDispatcher(2, zap.NewNop())
	sub := d.Register("slow", DropOldest())

	// Nobody reads yet: the worker holds one event in flight and the queue
	// holds two more, so the oldest queued events get evicted.
	for i := int64(1); i <= 6; i++ {
		d.Publish(tradeEvent("binance:all", i))
	}
	time.Sleep(50 * time.Millisecond)

	var got []int64
	timeout := time.After(2 * time.Second)
	for len(got) == 0 || got[len(got)-1] != 6 {
		select {
		case ev := <-sub.Stream:
			got = append(got, ev.(*domain.TradeEvent).Timestamp)
		case <-timeout:
			t.Fatalf("newest event never delivered, got %v", got)
		}
	}

	// At most one in-flight event plus a full queue survives, order is
	// preserved, and the newest event is never the one evicted.
	assert.LessOrEqual(t, len(got), 3)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
	assert.Equal(t, int64(6), got[len(got)-1])
}

func TestBoundedBlock_PublishNeverBlocks(t *testing.T) {
	d := NewDispatcher(1, zap.NewNop())
	d.Register("wedged", BoundedBlock(time.Minute))

	start := time.Now()
	for i := int64(1); i <= 20; i++ {
		d.Publish(tradeEvent("binance:all", i))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"publish must return immediately on a full bounded-block queue")
}

func TestBoundedBlock_ExpiredDeliveriesAreDiscarded(t *testing.T) {
	d := NewDispatcher(1, zap.NewNop())
	sub := d.Register("slow", BoundedBlock(50*time.Millisecond))

	// One event in flight, one queued, one parked past its deadline.
	d.Publish(tradeEvent("binance:all", 1))
	time.Sleep(50 * time.Millisecond) // let the worker take event 1 in flight
	d.Publish(tradeEvent("binance:all", 2))
	d.Publish(tradeEvent("binance:all", 3))
	time.Sleep(150 * time.Millisecond)

	var got []int64
	for len(got) < 2 {
		select {
		case ev := <-sub.Stream:
			got = append(got, ev.(*domain.TradeEvent).Timestamp)
		case <-time.After(time.Second):
			t.Fatalf("undelivered events, got %v", got)
		}
	}
	assert.Equal(t, []int64{1, 2}, got)

	select {
	case ev := <-sub.Stream:
		t.Fatalf("event %d delivered past its admission deadline", ev.(*domain.TradeEvent).Timestamp)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBoundedBlock_AdmitsWhenSpaceFreesInTime(t *testing.T) {
	d := NewDispatcher(1, zap.NewNop())
	sub := d.Register("bursty", BoundedBlock(time.Second))

	for i := int64(1); i <= 5; i++ {
		d.Publish(tradeEvent("binance:all", i))
	}

	// The consumer drains well within the timeout, so every delivery is
	// admitted in order.
	for i := int64(1); i <= 5; i++ {
		select {
		case ev := <-sub.Stream:
			assert.Equal(t, i, ev.(*domain.TradeEvent).Timestamp)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestWedgedBoundedBlockConsumerDoesNotStallPeers(t *testing.T) {
	d := NewDispatcher(2, zap.NewNop())
	d.Register("wedged", BoundedBlock(300*time.Millisecond))
	fast := d.Register("fast", BoundedBlock(time.Second))

	start := time.Now()
	go func() {
		for i := int64(1); i <= 10; i++ {
			d.Publish(tradeEvent("binance:all", i))
		}
	}()

	received := 0
	timeout := time.After(time.Second)
	for received < 10 {
		select {
		case <-fast.Stream:
			received++
		case <-timeout:
			t.Fatalf("fast consumer stalled after %d events beside a wedged peer", received)
		}
	}
	assert.Less(t, time.Since(start), time.Second,
		"the wedged consumer's timeout must not pace its peers")
}

func TestSlowConsumerDoesNotStallPeers(t *testing.T) {
	d := NewDispatcher(2, zap.NewNop())
	d.Register("slow", DropOldest())
	fast := d.Register("fast", BoundedBlock(time.Second))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); i <= 50; i++ {
			d.Publish(tradeEvent("binance:all", i))
		}
	}()

	received := 0
	timeout := time.After(2 * time.Second)
	for received < 50 {
		select {
		case <-fast.Stream:
			received++
		case <-timeout:
			t.Fatalf("fast consumer stalled after %d events", received)
		}
	}
	<-done
}

func TestClose_DrainsQueueThenClosesStream(t *testing.T) {
	d := NewDispatcher(16, zap.NewNop())
	sub := d.Register("sink", BoundedBlock(time.Second))

	d.Publish(tradeEvent("binance:all", 1))
	d.Publish(tradeEvent("binance:all", 2))
	d.Close()

	var got []int64
	for ev := range sub.Stream {
		got = append(got, ev.(*domain.TradeEvent).Timestamp)
	}
	require.Equal(t, []int64{1, 2}, got)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	d := NewDispatcher(16, zap.NewNop())
	sub := d.Register("sink", BoundedBlock(time.Second))

	sub.Unsubscribe()
	for range sub.Stream {
	}

	// Publishing after unsubscribe must not block or panic.
	d.Publish(tradeEvent("binance:all", 1))
}
