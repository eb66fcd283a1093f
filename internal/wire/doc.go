// Package wire defines the payload format for the Navis bus.
//
// Every payload is CBOR: an Envelope whose kind tag identifies the body
// type, so any receiver can decode any topic's traffic without out-of-band
// schema knowledge. Measurements additionally carry a nested, tagged state
// payload specific to the device type (differential drive, quadruped, ...),
// letting new device types add states without changing the framing.
//
// Encoding is deterministic (RFC 8949 Core Deterministic Encoding): the
// same logical message always produces identical bytes. Decoding ignores
// unknown fields, so payloads can grow fields without breaking older
// receivers.
//
// The bus and routing layers treat these payloads as opaque bytes; only
// endpoints (sessions, navisd) encode and decode.
package wire
