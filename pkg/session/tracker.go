package session

import (
	"context"
	"sync"

	"github.com/moeview/moeview/pkg/booru"
	"github.com/moeview/moeview/pkg/events"
)

// trackerOwner tags the bus subscription for bulk removal.
const trackerOwner = "session-tracker"

// TrackProgress subscribes to transfer progress events and marks items
// whose transfers are in flight, so a run that dies mid-transfer leaves
// records for ResumeIncomplete to re-request. Completed transfers have
// their mark cleared. Each item is written once per transfer, on its
// first progress event.
//
// The returned function removes the subscription.
func (s *Store) TrackProgress(bus *events.Bus) func() {
	var mu sync.Mutex
	marked := make(map[booru.ItemID]bool)

	bus.Subscribe(events.FetchProgress, trackerOwner, func(ev events.Event) {
		ctx := context.Background()

		if ev.Total > 0 && ev.Fetched >= ev.Total {
			mu.Lock()
			delete(marked, ev.Item)
			mu.Unlock()
			_ = s.ClearIncomplete(ctx, ev.Item)
			return
		}

		mu.Lock()
		seen := marked[ev.Item]
		marked[ev.Item] = true
		mu.Unlock()
		if seen {
			return
		}

		_ = s.MarkIncomplete(ctx, ev.Item)
	})

	return func() { bus.UnsubscribeOwner(trackerOwner) }
}
