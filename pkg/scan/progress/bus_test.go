package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securescan/securescan/db"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("scan-1")

	bus.Publish(Event{ScanID: "scan-1", Status: db.ScanStatusCrawling, Progress: 10})
	event := <-ch
	assert.Equal(t, "scan-1", event.ScanID)
	assert.Equal(t, 10, event.Progress)
}

func TestBusLateSubscriberGetsLatest(t *testing.T) {
	bus := NewBus()
	bus.Publish(Event{ScanID: "scan-1", Status: db.ScanStatusScanning, Progress: 65})

	ch := bus.Subscribe("scan-1")
	select {
	case event := <-ch:
		assert.Equal(t, 65, event.Progress)
		assert.Equal(t, db.ScanStatusScanning, event.Status)
	default:
		t.Fatal("expected cached event on subscribe")
	}
}

func TestBusScansAreIsolated(t *testing.T) {
	bus := NewBus()
	one := bus.Subscribe("scan-1")
	two := bus.Subscribe("scan-2")

	bus.Publish(Event{ScanID: "scan-1", Progress: 30})

	require.Len(t, one, 1)
	assert.Empty(t, two)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("scan-1")
	bus.Unsubscribe("scan-1", ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{ScanID: "scan-1", Progress: 50})
}

func TestBusForgetDropsCache(t *testing.T) {
	bus := NewBus()
	bus.Publish(Event{ScanID: "scan-1", Progress: 100, Status: db.ScanStatusCompleted})
	bus.Forget("scan-1")

	ch := bus.Subscribe("scan-1")
	assert.Empty(t, ch)
}
