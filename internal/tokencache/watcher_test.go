package tokencache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSlotWatcherDetectsExternalClear(t *testing.T) {
	slotPath := filepath.Join(t.TempDir(), "token.json")
	relay := &fakeRelay{}

	c, err := New(Config{SlotPath: slotPath, Relay: relay, WatchSlot: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if err := c.CacheToken("tok", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CacheToken failed: %v", err)
	}
	if !c.IsValid() {
		t.Fatal("Expected valid cache after CacheToken")
	}

	// Simulate another process clearing the slot out-of-band.
	if err := os.Remove(slotPath); err != nil {
		t.Fatalf("Failed to remove slot: %v", err)
	}

	// The watcher debounces; give it time to invalidate the memory copy.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !c.IsValid() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("Cache still valid after external slot removal")
}

func TestSlotWatcherStopIsIdempotent(t *testing.T) {
	slotPath := filepath.Join(t.TempDir(), "token.json")
	w, err := newSlotWatcher(slotPath, func() {})
	if err != nil {
		t.Fatalf("newSlotWatcher failed: %v", err)
	}

	if err := w.stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := w.stop(); err != nil {
		t.Fatalf("Second stop failed: %v", err)
	}
}
