package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRealClock_NewTicker(t *testing.T) {
	ticker := RealClock{}.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	c := NewMockClock(epoch)
	c.Advance(5 * time.Millisecond)
	assert.Equal(t, epoch.Add(5*time.Millisecond), c.Now())
}

func TestMockClock_Ticker(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(10 * time.Millisecond)

	c.Advance(5 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(5 * time.Millisecond)
	select {
	case got := <-ticker.C():
		assert.Equal(t, epoch.Add(10*time.Millisecond), got)
	default:
		t.Fatal("ticker did not fire")
	}

	// A long jump fires once and schedules the next tick past now.
	c.Advance(35 * time.Millisecond)
	<-ticker.C()
	c.Advance(4 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its next period")
	default:
	}
	c.Advance(time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire at 50ms")
	}
}

func TestMockClock_TickerStop(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(time.Millisecond)
	ticker.Stop()

	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
