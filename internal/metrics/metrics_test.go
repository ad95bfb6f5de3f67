package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_Idempotent(t *testing.T) {
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Register()
		}()
	}
	wg.Wait()
	Register()
}

func TestMergesTotal_ByOutcome(t *testing.T) {
	before := testutil.ToFloat64(MergesTotal.WithLabelValues(OutcomeBlocked))

	MergesTotal.WithLabelValues(OutcomeBlocked).Inc()

	if got := testutil.ToFloat64(MergesTotal.WithLabelValues(OutcomeBlocked)); got != before+1 {
		t.Errorf("expected %v blocked merges, got %v", before+1, got)
	}
}
