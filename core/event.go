// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines the event dispatcher notified after successful
// lifecycle actions and reads.
package core

import "sync"

// Event represents a lifecycle event that can be emitted by the ODM.
//
// Events are triggered after insert, update, remove, and find operations.
// They allow users to register custom handlers to observe or react to changes
// in the persistence layer.
type Event string

const (
	// EventInsert is emitted after a document is created.
	EventInsert Event = "insert"
	// EventUpdate is emitted after a document is updated.
	EventUpdate Event = "update"
	// EventRemove is emitted after a document, or a query's matches, are removed.
	EventRemove Event = "remove"
	// EventFind is emitted after a query returned its documents.
	EventFind Event = "find"
)

// EventHandler defines the callback signature for event listeners.
// The payload argument is a DocumentPayload for document lifecycle events
// and a QueryPayload for query events.
type EventHandler func(payload any)

// EventDispatcher manages a list of event handlers and dispatches them
// when the corresponding events are emitted.
type EventDispatcher struct {
	mutex       sync.RWMutex
	handlerList map[Event][]EventHandler
}

// globalDispatcher is the shared event dispatcher used by the ODM.
var globalDispatcher = &EventDispatcher{
	handlerList: make(map[Event][]EventHandler),
}

// On registers an EventHandler for a specific Event.
//
// Example:
//
//	core.On(core.EventInsert, func(payload any) {
//	    if p, ok := payload.(core.DocumentPayload); ok {
//	        log.Printf("inserted into %s: %v", p.Collection, p.ID)
//	    }
//	})
func On(event Event, handler EventHandler) {
	globalDispatcher.mutex.Lock()
	defer globalDispatcher.mutex.Unlock()
	globalDispatcher.handlerList[event] = append(globalDispatcher.handlerList[event], handler)
}

// Emit triggers all registered handlers for the given Event.
//
// Handlers are executed asynchronously in separate goroutines, so they never
// delay or reorder the lifecycle that emitted the event.
func Emit(event Event, payload any) {
	globalDispatcher.mutex.RLock()
	defer globalDispatcher.mutex.RUnlock()
	if hs, ok := globalDispatcher.handlerList[event]; ok {
		for _, h := range hs {
			go h(payload)
		}
	}
}

// DocumentPayload is passed to EventInsert, EventUpdate and EventRemove
// handlers after a document lifecycle action.
//
// Attributes is a snapshot taken when the event was emitted.
type DocumentPayload struct {
	Collection string
	ID         any
	Attributes Attributes
}

// QueryPayload is passed to EventFind and EventRemove handlers after a
// query terminal call.
type QueryPayload struct {
	Collection string
	Criteria   Criteria
	Count      int64
}
