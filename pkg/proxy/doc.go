/*
Package proxy exposes a serial session over HTTP.

One-shot operations are served at POST /api/1/{method} with the parameters as a JSON object body.
Read-only operations (getPairedDevices, getState) also accept GET. GET /api/1/ws upgrades to a
WebSocket session that accepts {"id", "method", "params"} requests, answers each with a message
carrying the same id, and streams incremental events (onDeviceFound during scanDevices,
onStateChanged for every connection state change).

When the proxy has a signing secret, every request must carry an HS256 bearer token in the
Authorization header or, for browser WebSocket clients, in the access_token query parameter.
*/
package proxy
