// Package registry tracks device presence on the bus.
//
// Every device announces itself on a retained per-device topic when it
// registers and again on every heartbeat. A Registry that calls Watch
// subscribes to the announcement wildcard and maintains an in-memory
// view of live devices; entries whose announcements stop are evicted
// after the configured liveness window. Deregister clears the retained
// announcement, so a device that shuts down cleanly disappears at once
// and is never replayed to late joiners. Retained announcements whose
// send time already predates the liveness window are recorded but not
// reported live.
//
// Device ids are assigned centrally by the IDService that runs inside
// navisd. Register publishes a request on an admin topic with a
// one-shot reply topic and waits for the assigned id. The IDService
// optionally records every assignment in a Store backed by SQLite.
//
// Usage:
//
//	reg := registry.New(router, cfg.Registry, logger)
//	if err := reg.Watch(); err != nil {
//	    return err
//	}
//	defer reg.Close()
//
//	id, err := reg.Register(ctx, "robot", "DifferentialDriveRobot")
//	if err != nil {
//	    return err
//	}
//
//	robots := reg.Discover(ctx, "robot", time.Second)
package registry
