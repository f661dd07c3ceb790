// Package realtime carries chat traffic over websockets.
//
// A Transport upgrades authenticated requests into Sessions. Each Session
// subscribes its connection to rooms through the Registry, and sends go
// through the Router, which persists a message and then broadcasts it to
// the room's subscribers while holding the room's lock. Subscribers whose
// send buffer is full miss the event; once they drain, they receive an
// events_dropped error for that room and can re-read its history.
package realtime
