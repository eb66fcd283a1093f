// Package robot contains the built-in device models. Each model
// satisfies the session.Device contract: it produces measurements for
// the publisher scheduler and applies commands received over the bus.
package robot
