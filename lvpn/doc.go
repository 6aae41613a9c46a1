// Package lvpn is a peer-to-peer encrypted tunnel between two endpoints.
//
// A Manager owns the shared 256-bit key and at most one Session. The
// responder listens on a well-known port (8989 by default) and the initiator
// dials it; both sides exchange key fingerprints in plaintext and, when they
// match, move payloads as AES-256-CBC frames over a TCP or QUIC byte stream.
// Heartbeats keep NAT state alive and detect a silent peer, and the
// initiator reconnects with exponential backoff.
//
// Sub-packages:
//
//	key        shared secret and fingerprints
//	crypto     frame cipher and key derivation
//	protocol   wire framing and the hello message
//	transport  tcp, quic and in-memory pipe transports
//	session    lifecycle state machine, queue and keepalive
//	stats      counters and the bounded event log
//	compress   optional LZ4 payload compression
//	config     viper-backed configuration
//	logging    logrus set-up
package lvpn
