/*
Package events implements the in-process broadcast hub behind the control
socket's event stream: a non-blocking pub/sub bus that lets every connected
backupctl client observe backup job transitions as they happen, independent
of whichever client originally triggered them.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s %s\n", event.Timestamp, event.Type, event.SetName)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventBackupComplete, SetName: "photos"})

Publish is non-blocking: a subscriber whose buffer is full misses the event
rather than stalling the publisher. The event stream is advisory — a client
that needs authoritative state should still query Status over the control
socket rather than reconstructing it from events alone.
*/
package events
