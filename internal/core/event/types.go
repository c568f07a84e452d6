package event

import "time"

// ChatReceived is emitted for every chat line the session receives.
type ChatReceived struct {
	Channel string // "", "gm", "whisper", "being"
	From    string
	Text    string
}

// MapChanged is emitted by the warp handler. Dispatch stays paused until the
// map system applies it.
type MapChanged struct {
	MapName string
	X, Y    uint16
}

// ConnectionProblem carries the server's disconnect reason code.
type ConnectionProblem struct {
	Code   uint8
	Reason string
}

// ServerVersion is emitted once the server answers the version request.
type ServerVersion struct {
	Version int
	Options uint8
}

// PingReceived is emitted when the server answers a client ping.
type PingReceived struct {
	Tick uint32
	RTT  time.Duration
}
