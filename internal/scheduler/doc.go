// Package scheduler publishes device measurements on fixed intervals.
//
// Each device channel gets its own publisher loop. Loops are anchored
// to wall-clock slots (start + n*interval): a slow provider delays its
// own channel only, and missed slots are skipped rather than replayed.
//
// Usage:
//
//	sched := scheduler.New(router, 0, logger)
//	defer sched.Close()
//
//	err := sched.Add(deviceID, "pose", 100*time.Millisecond, robot.Measurement)
package scheduler
