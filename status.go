package activeproxy

import "time"

// Status is a snapshot of the pool's observable state (spec.md §6
// "Observable state"), safe to read from any goroutine.
type Status struct {
	Server          string
	Upstream        string
	RelayPort       uint16
	Authenticated   bool
	ConnectionCount int
	MaxConnections  int
	ServerFails     int
	UpstreamFails   int
	IdleTimestamp   time.Time
}
