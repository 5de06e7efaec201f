package signal

import "testing"

func TestDefaultHandlerKillsOnUnregisteredSignal(t *testing.T) {
	killed := false
	p := New(func() { killed = true })
	p.Raise(2)
	p.CheckSignal()
	if !killed {
		t.Fatalf("expected the default handler to kill the thread")
	}
}

func TestRegisteredHandlerOverridesDefault(t *testing.T) {
	killed := false
	delivered := -1
	p := New(func() { killed = true })
	p.Register(2, func(sig int) { delivered = sig })
	p.Raise(2)
	p.CheckSignal()
	if killed {
		t.Fatalf("registered handler should have suppressed the default kill")
	}
	if delivered != 2 {
		t.Fatalf("expected signal 2 to be delivered, got %d", delivered)
	}
}

func TestMultiplePendingSignalsDeliveredInOrder(t *testing.T) {
	var order []int
	p := New(func() {})
	p.Register(1, func(sig int) { order = append(order, sig) })
	p.Register(5, func(sig int) { order = append(order, sig) })
	p.Raise(5)
	p.Raise(1)
	p.CheckSignal()
	if len(order) != 2 || order[0] != 1 || order[1] != 5 {
		t.Fatalf("expected signals to be delivered in ascending number order, got %v", order)
	}
}

func TestSIGKILLCannotBeRegistered(t *testing.T) {
	p := New(func() {})
	if err := p.Register(9, func(int) {}); err == 0 {
		t.Fatalf("expected registering a handler for SIGKILL to fail")
	}
}
