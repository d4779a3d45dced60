package poolmgr

import "time"

// Status is a point-in-time snapshot of the pool's observable state,
// safe to read from any goroutine (obtained under the manager's lock).
type Status struct {
	ServerAddr     string
	UpstreamAddr   string
	RelayPort      uint16
	Authenticated  bool
	InFlight       int
	MaxConnections int
	ServerFails    int
	UpstreamFails  int
	ReconnectDelay time.Duration
	IdleTimestamp  time.Time
}
