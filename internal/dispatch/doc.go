// Package dispatch delivers commands to devices and correlates their
// acknowledgements.
//
// Each device owns one command topic and one ack topic. Send publishes
// fire-and-forget; SendAndWait stamps the envelope with a request id,
// subscribes to the device's ack topic and blocks until the matching
// ack arrives or the deadline passes. Because all commands to a device
// travel one topic, the device observes them in the order each sender
// published them.
//
// Usage:
//
//	disp := dispatch.New(router, logger)
//	defer disp.Close()
//
//	env, _ := wire.NewEnvelope(wire.KindMove, wire.Move{V: 0.5})
//	ack, err := disp.SendAndWait(ctx, deviceID, env, 2*time.Second)
package dispatch
