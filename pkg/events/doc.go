/*
Package events provides an in-memory event broker for coordinator
pub/sub messaging.

The broker broadcasts work-queue lifecycle events (scheduled, done,
cancelled, rescheduled, gave up) and peer membership events to
subscribers over buffered channels. Publish blocks only while the
broker's 100-event queue is full; a slow subscriber drops events rather
than stalling the broker.

	broker := events.NewBroker()
	broker.Start()
	sub := broker.Subscribe()
	for ev := range sub {
		fmt.Println(ev.Type, ev.WorkID)
	}
*/
package events
