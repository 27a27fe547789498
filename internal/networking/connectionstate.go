package networking

import "fmt"

type ConnectionState int32

const (
	ConnectionIdle ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionClosed
	ConnectionError
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionIdle:
		return "idle"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionClosed:
		return "closed"
	case ConnectionError:
		return "error"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// Terminal states are never left.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionClosed || s == ConnectionError
}
