package networking

import "github.com/pion/webrtc/v4"

// Holds everything the server needs to answer a data channel connection
// from a student: who is connecting and the offered session description.
type SignallingOffer struct {
	// Display name of the student, as on the websocket endpoint.
	Name string

	WebRTCSessionDescription webrtc.SessionDescription
}
