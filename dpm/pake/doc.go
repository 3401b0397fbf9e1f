// Package pake implements the SAE (Dragonfly) password-authenticated key
// exchange used between two DPM nodes.
//
// Both nodes hold the same password derivative. Each pair of NodeIDs maps to a
// password element (PWE) on NIST P-256, found by hunting and pecking. The
// exchange never sends anything an eavesdropper could use for an offline
// dictionary attack.
//
// # Protocol Flow
//
//	Client                                   Server
//	------                                   ------
//	Identity{id}              ------>        (receive first)
//	                          <------        Identity{id}
//	s := engine.InitiateSession(local, remote)
//	s.Parameters()            ------>
//	                          <------        s.Parameters()
//	s.GenerateToken(remote)   ------>
//	                          <------        s.GenerateToken(remote)
//	key := s.ValidateToken(token, remote)    key := s.ValidateToken(token, remote)
//
// Both sides end with the same session key or with ErrTokenMismatch.
package pake
