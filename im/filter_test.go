package im

import "testing"

func TestFilterChainStopsAtFirstConsumer(t *testing.T) {
	c := &FilterChain{}
	var order []int
	c.AddInput(func(in *Incoming, s *Session) bool {
		order = append(order, 1)
		return false
	})
	c.AddInput(func(in *Incoming, s *Session) bool {
		order = append(order, 2)
		return true
	})
	c.AddInput(func(in *Incoming, s *Session) bool {
		order = append(order, 3)
		return true
	})

	consumed := c.RunInput(&Incoming{Kind: KindMessage}, nil)
	if !consumed {
		t.Fatal("expected stanza to be reported consumed")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("filters ran in order %v, want exactly [1 2]", order)
	}
}

func TestFilterChainNoConsumerRunsAll(t *testing.T) {
	c := &FilterChain{}
	n := 0
	for i := 0; i < 3; i++ {
		c.AddInput(func(*Incoming, *Session) bool {
			n++
			return false
		})
	}
	if c.RunInput(&Incoming{Kind: KindIQ}, nil) {
		t.Fatal("expected stanza not to be consumed")
	}
	if n != 3 {
		t.Fatalf("ran %d filters, want 3", n)
	}
}

func TestOutputChainRunsInOrder(t *testing.T) {
	c := &FilterChain{}
	var order []int
	c.AddOutput(func(out *Outgoing, s *Session) { order = append(order, 1) })
	c.AddOutput(func(out *Outgoing, s *Session) { order = append(order, 2) })
	c.RunOutput(&Outgoing{Kind: KindPresence}, nil)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("output filters ran in order %v, want [1 2]", order)
	}
}
