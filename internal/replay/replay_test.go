package replay_test

import (
	"testing"
	"time"

	"github.com/axon-project/axon/internal/replay"
)

func TestGuardDetectsDuplicateWithinTTL(t *testing.T) {
	g := replay.NewGuard(50 * time.Millisecond)

	if g.Seen("a") {
		t.Fatalf("first observation should not be a duplicate")
	}
	if !g.Seen("a") {
		t.Fatalf("second observation within ttl should be a duplicate")
	}
}

func TestGuardForgetsAfterTTL(t *testing.T) {
	g := replay.NewGuard(20 * time.Millisecond)

	g.Seen("a")
	time.Sleep(40 * time.Millisecond)

	if g.Seen("a") {
		t.Fatalf("observation after ttl expiry should not be a duplicate")
	}
}

func TestGuardTracksIDsIndependently(t *testing.T) {
	g := replay.NewGuard(time.Second)

	g.Seen("a")
	if g.Seen("b") {
		t.Fatalf("distinct id must not be reported as duplicate")
	}
}
