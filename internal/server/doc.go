// Package server is the HTTP surface of the relay.
//
// GET /ws checks the connection limits, performs the WebSocket handshake with
// gorilla/websocket and hands the hijacked stream to a broadcast.Relay, which from then on
// speaks the frame protocol directly. The remaining routes are operational: health probes,
// /version and Prometheus /metrics.
package server
