package tutor

import "testing"

func TestPublishDeliversToAllSubscribersOfOwner(t *testing.T) {
	b := New()
	chA := b.Subscribe("owner-1", "session-a")
	chB := b.Subscribe("owner-1", "session-b")

	b.Publish("owner-1", Message{OwnerID: "owner-1", Sender: "tutor", Text: "hello"})

	for _, ch := range []<-chan Message{chA, chB} {
		select {
		case msg := <-ch:
			if msg.Text != "hello" {
				t.Fatalf("got text %q, want hello", msg.Text)
			}
		default:
			t.Fatal("expected a buffered message")
		}
	}
}

func TestPublishDoesNotCrossOwners(t *testing.T) {
	b := New()
	ch := b.Subscribe("owner-1", "session-a")
	b.Publish("owner-2", Message{OwnerID: "owner-2", Text: "not for you"})

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message delivered across owners: %+v", msg)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe("owner-1", "session-a")
	b.Unsubscribe("owner-1", "session-a")

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
