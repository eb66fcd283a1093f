// Package routing maps logical device addresses to bus topics and
// dispatches inbound bus traffic to local handlers.
//
// # Topic derivation
//
// Topic names are a pure function of device id and channel, built by the
// Topics helpers. Device-scoped names are part of the wire contract:
//
//	{device_id}/measurement/{channel}
//	{device_id}/command
//	{device_id}/ack
//
// Infrastructure topics (announcements, id service) live under the navis/
// prefix, which cannot collide with device topics because device ids are
// router-assigned UUIDs.
//
// # Ordering model
//
// Each subscribed topic gets one worker goroutine draining a FIFO queue:
// messages on one topic reach the handler strictly in arrival order, while
// distinct topics dispatch concurrently. A slow or failing handler on one
// device's command topic therefore never delays another device's traffic.
// No ordering is guaranteed across topics.
package routing
