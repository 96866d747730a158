package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistryCountersStartAtZero(t *testing.T) {
	r := NewRegistry()
	if got := testutil.ToFloat64(r.acksTotal); got != 0 {
		t.Fatalf("acksTotal = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.inflight); got != 0 {
		t.Fatalf("inflight = %v, want 0", got)
	}
}

func TestRegistryCountersIncrement(t *testing.T) {
	r := NewRegistry()
	r.IncAcks()
	r.IncAcks()
	r.IncErrors()
	r.IncAlarms()
	r.IncSpuriousAcks()
	r.SetPendingChars(42)
	r.SetInFlight(3)

	if got := testutil.ToFloat64(r.acksTotal); got != 2 {
		t.Fatalf("acksTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.errorsTotal); got != 1 {
		t.Fatalf("errorsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.alarmsTotal); got != 1 {
		t.Fatalf("alarmsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.spuriousTotal); got != 1 {
		t.Fatalf("spuriousTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.pendingChars); got != 42 {
		t.Fatalf("pendingChars = %v, want 42", got)
	}
	if got := testutil.ToFloat64(r.inflight); got != 3 {
		t.Fatalf("inflight = %v, want 3", got)
	}
}

func TestRegistryHistogramsObserveSamples(t *testing.T) {
	r := NewRegistry()
	r.ObserveCommandLatency(15 * time.Millisecond)
	r.ObservePollRoundTrip(2 * time.Millisecond)

	if got := testutil.CollectAndCount(r.cmdLatency); got != 1 {
		t.Fatalf("cmdLatency samples = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(r.pollRTT); got != 1 {
		t.Fatalf("pollRTT samples = %d, want 1", got)
	}
}

func TestTwoRegistriesDoNotCollideOnRegistration(t *testing.T) {
	// Each Registry carries its own prometheus.Registry (NewRegistry, not
	// the package-level default), so building a second one must never
	// panic with "duplicate metrics collector registration".
	_ = NewRegistry()
	_ = NewRegistry()
}

func TestRegistryServeRejectsUnservableAddress(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := r.Serve(ctx, "not-a-valid-address")
	if err == nil {
		t.Fatal("expected an error binding an invalid listen address")
	}
}

func TestRegistryServeShutsDownOnContextCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- r.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil after a clean shutdown", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve never returned after context cancel")
	}
}
