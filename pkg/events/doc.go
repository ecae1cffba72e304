// Package events provides a typed publish/subscribe bus for control-plane
// lifecycle events.
//
// # Overview
//
// Subsystems (health gate, transaction coordinator, metrics engine, routing
// optimizer) publish typed events; observers subscribe to the event types
// they care about. Dispatch is non-blocking: each subscriber has a bounded
// buffered channel, and events for a subscriber that cannot keep up are
// dropped and counted rather than stalling the publisher.
//
// # Usage
//
//	bus := events.NewBus(events.Config{BufferSize: 64})
//	ch, cancel := bus.Subscribe(events.TypeGateOpened, events.TypeGateClosed)
//	defer cancel()
//
//	go func() {
//	    for evt := range ch {
//	        log.Printf("gate event: %s", evt.Type)
//	    }
//	}()
//
// # Thread Safety
//
// All bus operations are safe for concurrent use.
package events
