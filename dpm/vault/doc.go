// Package vault holds the in-memory password vault and the codec that splits
// its serialized form into byte-level fragments.
//
// A serialized vault of L bytes is split into N fragments by sending every
// byte, together with its offset, to a uniformly chosen fragment. Each node
// keeps one fragment; the vault only exists again once every fragment has been
// collected.
package vault
