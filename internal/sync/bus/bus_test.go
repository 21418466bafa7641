package bus

import (
	"context"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/driftsync/syncd/internal/sync/model"
)

func newCache(t *testing.T) (*lru.Cache[uint64, Message], error) {
	t.Helper()
	return lru.New[uint64, Message](reorderBufferSize)
}

func committedOp(seq uint64) model.CommittedOp {
	return model.CommittedOp{Op: model.Operation{OwnerID: "owner-1", RecordID: "rec-1"}, OpSeq: seq}
}

func TestPublishDeliversInOrderToSingleSubscriber(t *testing.T) {
	b := New()
	sub, err := b.Subscribe("owner-1", "session-a")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	b.Publish(ctx, "owner-1", committedOp(1))
	b.Publish(ctx, "owner-1", committedOp(2))

	for _, want := range []uint64{1, 2} {
		select {
		case msg := <-sub.C():
			if msg.Op.OpSeq != want {
				t.Fatalf("expected op_seq %d, got %d", want, msg.Op.OpSeq)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for op_seq %d", want)
		}
	}
}

func TestDeliverBuffersOutOfOrderThenFlushes(t *testing.T) {
	cache, err := newCache(t)
	if err != nil {
		t.Fatalf("newCache: %v", err)
	}
	sub := &Subscription{ch: make(chan Message, 8), reorder: cache, nextSeq: 1}

	sub.Deliver(Message{Op: committedOp(2)})
	select {
	case <-sub.ch:
		t.Fatalf("did not expect delivery before op_seq 1 arrives")
	default:
	}

	sub.Deliver(Message{Op: committedOp(1)})

	first := <-sub.ch
	second := <-sub.ch
	if first.Op.OpSeq != 1 || second.Op.OpSeq != 2 {
		t.Fatalf("expected in-order delivery 1,2 got %d,%d", first.Op.OpSeq, second.Op.OpSeq)
	}
}

func TestDeliverOverflowsWhenGapExceedsBufferSize(t *testing.T) {
	sub := &Subscription{ch: make(chan Message, reorderBufferSize+4)}
	cache, err := newCache(t)
	if err != nil {
		t.Fatalf("newCache: %v", err)
	}
	sub.reorder = cache
	sub.nextSeq = 1

	overflowed := false
	for seq := uint64(2); seq < uint64(2+reorderBufferSize+1); seq++ {
		if sub.Deliver(Message{Op: committedOp(seq)}) {
			overflowed = true
			break
		}
	}
	if !overflowed {
		t.Fatalf("expected reorder buffer to overflow once more than %d ops are pending", reorderBufferSize)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub, err := b.Subscribe("owner-1", "session-a")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Unsubscribe("owner-1", "session-a")

	_, ok := <-sub.C()
	if ok {
		t.Fatalf("expected channel to be closed after Unsubscribe")
	}
}
