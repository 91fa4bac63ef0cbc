// Package events defines the gateway related events emitted on the event bus.
//
// Available event types:
//   - CommandEvent: a roaming command reached a terminal state
//   - StationEvent: a station reported a status change or a heartbeat
package events
