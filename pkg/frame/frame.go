package frame

import (
	"encoding/binary"
	"errors"
	"math"
)

const bytesPerSample = 4

var errMisalignedPayload = errors.New("payload length is not a multiple of 4 bytes")

// A PCMFrame is a block of mono float32 samples, nominally in [-1.0, 1.0].
//
// Frames coming from an AudioSourceDevice are at the device sample rate,
// frames leaving the decimator are at the session target rate.
type PCMFrame []float32

// Encode the frame to the outbound wire format: raw little-endian IEEE-754
// float32 samples, no header and no length prefix.
// Message framing is left to the transport.
func (f PCMFrame) Bytes() []byte {
	buf := make([]byte, len(f)*bytesPerSample)
	for i, sample := range f {
		binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(sample))
	}
	return buf
}

// Decode a wire payload produced by PCMFrame.Bytes.
//
// Payloads whose length is not a multiple of four are rejected,
// matching what a receiving backend does with a truncated message.
func FromBytes(payload []byte) (PCMFrame, error) {
	if len(payload)%bytesPerSample != 0 {
		return nil, errMisalignedPayload
	}
	f := make(PCMFrame, len(payload)/bytesPerSample)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*bytesPerSample:]))
	}
	return f, nil
}
