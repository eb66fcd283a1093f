// Package session provides the two participant roles on the Navis bus.
//
// A DeviceSession attaches one device model: it registers with the id
// service, publishes telemetry on its configured channels, applies
// incoming commands and heartbeats the registry. A ControllerSession
// is the operator side: it discovers devices, watches telemetry and
// sends commands, optionally waiting for acknowledgements.
//
// A minimal device process:
//
//	sess := session.NewDeviceSession(router, reg, sched, robot,
//	    []session.PublisherConfig{{Channel: "pose", Interval: 100 * time.Millisecond}},
//	    cfg.Registry.HeartbeatPeriod(), logger)
//	if err := sess.Register(ctx); err != nil {
//	    return err
//	}
//	if err := sess.Start(); err != nil {
//	    return err
//	}
//	defer sess.Close()
package session
