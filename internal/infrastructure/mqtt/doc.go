// Package mqtt provides the MQTT bus adapter for Navis Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Navis uses MQTT as the shared bus connecting device processes (robots,
// simulators) to controller processes and the navisd router. One Client is
// shared by every session in a process; all methods are safe for concurrent
// use. Payloads are opaque bytes to this package; encoding lives in
// internal/wire, topic naming in internal/routing.
//
//	Device Session ↔ MQTT Broker ↔ Controller Session / navisd
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("navis/announce/+", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("announce on %s", topic)
//	        return nil
//	    })
//
// # Connection loss
//
// When the broker connection drops, SetOnConnectionLost callbacks fire so
// sessions can surface the condition; the client reconnects with exponential
// backoff and restores tracked subscriptions on its own.
package mqtt
