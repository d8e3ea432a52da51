// Package dblock serializes database-backed tests across packages that
// share one Postgres instance. `go test ./...` runs packages in parallel
// processes, so the lock is a TCP port every process competes for.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire blocks until the lock is held and returns its release func.
// DBLOCK_ADDR overrides the port when the default one is taken.
func Acquire() func() {
	addr := os.Getenv("DBLOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
