package health

import (
	"strings"
	"testing"

	"github.com/fakelaghq/fakelag/internal/metrics"
)

func TestNotReadyBeforeBind(t *testing.T) {
	c := NewChecker(metrics.NewStore(), 100)

	ready, reasons := c.Ready()
	if ready {
		t.Fatalf("expected not ready before bind")
	}
	if len(reasons) != 1 || reasons[0] != reasonNotBound {
		t.Fatalf("reasons: %v", reasons)
	}

	c.SetBound()
	if ready, reasons := c.Ready(); !ready {
		t.Fatalf("expected ready after bind, reasons: %v", reasons)
	}
}

func TestNotReadyWhenQueueSaturated(t *testing.T) {
	store := metrics.NewStore()
	c := NewChecker(store, 10)
	c.SetBound()

	store.QueueRecorder(metrics.ToClient).ObserveDepth(10)

	ready, reasons := c.Ready()
	if ready {
		t.Fatalf("expected not ready at depth cap")
	}
	if len(reasons) != 1 || !strings.HasPrefix(reasons[0], reasonQueueSaturated) {
		t.Fatalf("reasons: %v", reasons)
	}

	store.QueueRecorder(metrics.ToClient).ObserveDepth(9)
	if ready, _ := c.Ready(); !ready {
		t.Fatalf("expected ready below the cap")
	}
}

func TestZeroCapDisablesSaturationCheck(t *testing.T) {
	store := metrics.NewStore()
	c := NewChecker(store, 0)
	c.SetBound()
	store.QueueRecorder(metrics.ToServer).ObserveDepth(1 << 20)

	if ready, reasons := c.Ready(); !ready {
		t.Fatalf("expected ready with cap disabled, reasons: %v", reasons)
	}
}
