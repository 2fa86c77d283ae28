// Package broadcast implements the relay broker that fans messages out to connected clients.
//
// Every connection runs a reader loop (frames to Events) and a writer loop (outbound queue to socket).
// Two brokers resolve Events against the registry of connections:
// Broadcaster owns the registry in a single actor goroutine fed by an event channel and a disconnect channel,
// SharedBroadcaster guards the registry with a sync.RWMutex and lets reader loops deliver directly.
package broadcast
