package services

import "testing"

func TestFanoutPolicy_StrictThreshold(t *testing.T) {
	p := NewFanoutPolicy(100)

	if p.HighFanout(100) {
		t.Fatalf("cardinality == threshold must not be high-fanout")
	}
	if !p.HighFanout(101) {
		t.Fatalf("cardinality above threshold must be high-fanout")
	}
}

func TestFanoutPolicy_DefaultOnNonPositive(t *testing.T) {
	if got := NewFanoutPolicy(0).Threshold(); got != DefaultFanoutThreshold {
		t.Fatalf("threshold = %d; want default %d", got, DefaultFanoutThreshold)
	}
	if got := NewFanoutPolicy(-5).Threshold(); got != DefaultFanoutThreshold {
		t.Fatalf("threshold = %d; want default %d", got, DefaultFanoutThreshold)
	}
}

func TestFanoutPolicy_SetThreshold(t *testing.T) {
	p := NewFanoutPolicy(100)
	p.SetThreshold(10)
	if p.Threshold() != 10 {
		t.Fatalf("threshold not replaced")
	}

	// Non-positive retunes are ignored, not applied as the default.
	p.SetThreshold(0)
	if p.Threshold() != 10 {
		t.Fatalf("zero retune must be a no-op")
	}
}
