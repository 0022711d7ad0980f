package crdt

import (
	"testing"
)

func TestInsertLocalContent(t *testing.T) {
	d := NewDocument(1)
	d.Insert(0, "hello")
	if got := d.GetContent(); got != "hello" {
		t.Fatalf("GetContent() = %q, want %q", got, "hello")
	}
}

func TestDeleteLocalContent(t *testing.T) {
	d := NewDocument(1)
	d.Insert(0, "hello")
	d.Delete(1, 3)
	if got := d.GetContent(); got != "ho" {
		t.Fatalf("GetContent() = %q, want %q", got, "ho")
	}
}

// TestConvergenceUnderPermutation applies the same set of remote ops to two
// fresh replicas in different orders and checks they converge on identical
// content, as required of a commutative, associative apply_update.
func TestConvergenceUnderPermutation(t *testing.T) {
	source := NewDocument(1)
	u1 := source.Insert(0, "abc")
	u2 := source.Insert(1, "X") // anchored after "a"
	u3 := source.Delete(0, 1)   // remove "a"

	inOrder := NewDocument(2)
	for _, u := range [][]byte{u1, u2, u3} {
		if err := inOrder.ApplyUpdate(u); err != nil {
			t.Fatalf("ApplyUpdate: %v", err)
		}
	}

	reversed := NewDocument(3)
	for _, u := range [][]byte{u3, u2, u1} {
		if err := reversed.ApplyUpdate(u); err != nil {
			t.Fatalf("ApplyUpdate: %v", err)
		}
	}

	want := source.GetContent()
	if got := inOrder.GetContent(); got != want {
		t.Errorf("in-order replica content = %q, want %q", got, want)
	}
	if got := reversed.GetContent(); got != want {
		t.Errorf("reversed replica content = %q, want %q", got, want)
	}
}

// TestApplyUpdateIdempotent checks that re-applying an already-seen update
// is a no-op, as required when a flaky connection causes retransmission.
func TestApplyUpdateIdempotent(t *testing.T) {
	source := NewDocument(1)
	u := source.Insert(0, "hello")

	dst := NewDocument(2)
	for i := 0; i < 3; i++ {
		if err := dst.ApplyUpdate(u); err != nil {
			t.Fatalf("ApplyUpdate iteration %d: %v", i, err)
		}
	}
	if got := dst.GetContent(); got != "hello" {
		t.Fatalf("GetContent() = %q, want %q", got, "hello")
	}
}

// TestCausalBuffering checks that an insert anchored to an op the replica
// has not yet seen is held rather than dropped or mis-ordered, and applied
// once its dependency arrives.
func TestCausalBuffering(t *testing.T) {
	source := NewDocument(1)
	u1 := source.Insert(0, "ac")
	u2 := source.Insert(1, "b") // "abc"

	dst := NewDocument(2)
	if err := dst.ApplyUpdate(u2); err != nil { // dependency not seen yet
		t.Fatalf("ApplyUpdate u2: %v", err)
	}
	if got := dst.GetContent(); got != "" {
		t.Fatalf("GetContent() before dependency arrives = %q, want empty", got)
	}
	if err := dst.ApplyUpdate(u1); err != nil {
		t.Fatalf("ApplyUpdate u1: %v", err)
	}
	if got := dst.GetContent(); got != "abc" {
		t.Fatalf("GetContent() after dependency arrives = %q, want %q", got, "abc")
	}
}

// TestDiffSoundness checks that EncodeDiff produces exactly the ops a peer
// is missing relative to its reported state vector, and that applying the
// diff brings the peer to convergence without resending ops it already has.
func TestDiffSoundness(t *testing.T) {
	a := NewDocument(1)
	u1 := a.Insert(0, "hello")

	b := NewDocument(2)
	if err := b.ApplyUpdate(u1); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	// a advances further while b is left behind.
	a.Insert(5, " world")

	diff, err := a.EncodeDiff(b.StateVector())
	if err != nil {
		t.Fatalf("EncodeDiff: %v", err)
	}
	if err := b.ApplyUpdate(diff); err != nil {
		t.Fatalf("ApplyUpdate(diff): %v", err)
	}

	if got, want := b.GetContent(), a.GetContent(); got != want {
		t.Fatalf("b.GetContent() = %q, want %q", got, want)
	}

	// A second diff against the now-current state vector should be empty:
	// nothing new to send.
	diff2, err := a.EncodeDiff(b.StateVector())
	if err != nil {
		t.Fatalf("EncodeDiff: %v", err)
	}
	ops, err := decodeOps(diff2)
	if err != nil {
		t.Fatalf("decodeOps: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("second diff has %d ops, want 0", len(ops))
	}
}

func TestConcurrentInsertAtSameOriginConverges(t *testing.T) {
	base := NewDocument(1)
	u0 := base.Insert(0, "ac")

	replicaA := NewDocument(10)
	replicaB := NewDocument(20)
	for _, d := range []*Document{replicaA, replicaB} {
		if err := d.ApplyUpdate(u0); err != nil {
			t.Fatalf("ApplyUpdate: %v", err)
		}
	}

	// Both replicas insert immediately after "a" concurrently.
	uA := replicaA.Insert(1, "X")
	uB := replicaB.Insert(1, "Y")

	// Deliver cross-updates in opposite orders to each replica.
	if err := replicaA.ApplyUpdate(uB); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if err := replicaB.ApplyUpdate(uA); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	if got, want := replicaA.GetContent(), replicaB.GetContent(); got != want {
		t.Fatalf("replicaA = %q, replicaB = %q, want equal", got, want)
	}
}
