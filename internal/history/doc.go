// Package history records device measurements to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library: navisd feeds
// every measurement observed on the bus into a Writer, which batches
// points and writes them asynchronously. Query access is left to
// InfluxDB's own tooling.
//
// # Usage
//
//	writer, err := history.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer writer.Close()
//
//	writer.WriteMeasurement(deviceID, channel, m)
//
// # Error Handling
//
// Write operations are non-blocking; batch errors surface through the
// SetOnError callback. Connection and health check errors are returned
// directly.
package history
