package clock

import (
	"context"
	"testing"
	"time"
)

// TestFakeTickerFiresOnAdvance verifies ticks are delivered per period.
func TestFakeTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	ticker := f.NewTicker(2 * time.Second)

	f.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its period")
	default:
	}

	f.Advance(time.Second)
	select {
	case got := <-ticker.C():
		if !got.Equal(start.Add(2 * time.Second)) {
			t.Fatalf("tick time = %s", got)
		}
	default:
		t.Fatal("expected tick after full period")
	}
}

// TestFakeTickerDropsUnreadTicks mirrors time.Ticker slow-receiver behavior.
func TestFakeTickerDropsUnreadTicks(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Second)

	f.Advance(5 * time.Second)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("expected buffered ticks to be dropped")
	default:
	}
}

// TestFakeTickerStop removes the ticker from the clock.
func TestFakeTickerStop(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Second)
	if f.ActiveTickers() != 1 {
		t.Fatalf("active = %d, want 1", f.ActiveTickers())
	}

	ticker.Stop()
	ticker.Stop()
	if f.ActiveTickers() != 0 {
		t.Fatalf("active = %d, want 0", f.ActiveTickers())
	}
}

// TestSleepReturnsOnCancel checks early exit when the context ends.
func TestSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Hour); err == nil {
		t.Fatal("expected context error")
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep error = %v", err)
	}
}
