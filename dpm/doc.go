// Package dpm is the core of a distributed password manager.
//
// A user's vault is never stored whole. It is split into byte-disjoint
// fragments, one per device of the user's network, and rebuilt on demand by
// collecting the fragments of every reachable device. Devices find each other
// with multicast discovery and authenticate with a password-authenticated key
// exchange (SAE over P-256), so only devices that know the master password can
// ask for or receive a fragment.
//
// Node ties the pieces together. The subpackages can be used on their own:
//
//	crypto     password stretching, hashing, XChaCha20-Poly1305
//	identity   node and network identifiers, persisted properties
//	pake       the SAE engine
//	vault      entries, serialization, fragments, the local fragment store
//	protocol   wire frames and packets
//	session    one authenticated request per QUIC connection
//	discovery  multicast (or in-memory) peer discovery
//	network    fan-out and fan-in of fragment requests
package dpm
