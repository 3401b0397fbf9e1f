// Package session implements the secure connection between two DPM nodes.
//
// A connection carries one request and at most one response:
//
//	CONNECTING -> HANDSHAKE_IDENTITY -> HANDSHAKE_PARAMETERS -> HANDSHAKE_TOKEN
//	  -> AUTHENTICATED -> SENDING -> (RECEIVING) -> CLOSED
//
// Every failure path ends in CLOSED. The Client dials a Server that a peer
// opened for it in answer to a discovery request. Both run the PAKE handshake
// over a single QUIC stream, then exchange packets sealed with a key stretched
// from the session key.
package session
