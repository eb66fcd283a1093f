// Package server assembles the navisd core: the id service, the
// registry watcher and the measurement observer, wired over one
// router. The navisd binary adds the optional pieces (SQLite store,
// InfluxDB history, HTTP status API) around it.
package server
