package realtime

import "testing"

func TestSubscriptionSet_ReplaceClosesPrior(t *testing.T) {
	set := newSubscriptionSet()

	first := set.add("roster")
	second := set.add("roster")

	if !first.closed() {
		t.Error("re-subscribing must tear down the prior subscription for the same view")
	}
	if second.closed() {
		t.Error("replacement subscription should be live")
	}

	got, ok := set.get("roster")
	if !ok || got != second {
		t.Error("set should hold exactly the replacement subscription")
	}
}

func TestSubscriptionSet_IndependentViews(t *testing.T) {
	set := newSubscriptionSet()

	rosterSub := set.add("roster")
	convSub := set.add("conversation:abc")

	set.remove("conversation:abc")

	if !convSub.closed() {
		t.Error("removed subscription should be closed")
	}
	if rosterSub.closed() {
		t.Error("unrelated subscription must survive another view's teardown")
	}
	if _, ok := set.get("conversation:abc"); ok {
		t.Error("removed subscription should be gone from the set")
	}
}

func TestSubscriptionSet_RemoveMissingIsNoop(t *testing.T) {
	set := newSubscriptionSet()
	set.remove("roster") // must not panic
}

func TestSubscriptionSet_CloseAll(t *testing.T) {
	set := newSubscriptionSet()
	a := set.add("roster")
	b := set.add("inbox")

	set.closeAll()

	if !a.closed() || !b.closed() {
		t.Error("closeAll should close every subscription")
	}
	if _, ok := set.get("roster"); ok {
		t.Error("closeAll should empty the set")
	}
}

func TestSubscription_PokeCoalesces(t *testing.T) {
	sub := newSubscription("roster")

	// Many pokes while no refresh is running collapse into one pending
	// request; none of them may block.
	for i := 0; i < 10; i++ {
		sub.poke()
	}

	select {
	case <-sub.notify:
	default:
		t.Fatal("expected a pending refresh request")
	}

	select {
	case <-sub.notify:
		t.Fatal("pokes should coalesce into a single pending request")
	default:
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	sub := newSubscription("inbox")
	sub.close()
	sub.close() // must not panic

	if !sub.closed() {
		t.Error("subscription should report closed")
	}
}
