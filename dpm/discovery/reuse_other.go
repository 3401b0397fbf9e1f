//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package discovery

import "syscall"

// reusePort is a no-op here: only one node per host can bind the group port.
func reusePort(_, _ string, _ syscall.RawConn) error { return nil }
