// Package webhook fans domain events out to registered HTTP endpoints.
//
// Notify never blocks the caller: events go onto a bounded buffer drained by a
// background loop, and overflow is dropped and counted. Each event is resolved
// against the enabled registrations for its type and POSTed as
//
//	{"event": "<type>", "data": <payload>}
//
// with at most Config.MaxConcurrent deliveries in flight. Test performs a
// single synchronous call for the admin API and ignores the enabled flag.
package webhook
