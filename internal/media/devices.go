package media

import (
	"context"
	"errors"
	"image"

	"github.com/psysense/voice-coach/internal/audio"
)

var (
	// ErrPermissionDenied is returned when the user or OS refuses device access
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDeviceNotFound is returned when no device of the requested kind exists
	ErrDeviceNotFound = errors.New("device not found")
)

// Track is an acquired device stream. Stop releases the device and is idempotent.
type Track interface {
	Stop()
}

// Microphone delivers mono float samples at its native rate
type Microphone interface {
	Track
	SampleRate() int
	// Start begins delivering samples to sink until Stop. sink is called
	// from a single goroutine.
	Start(sink func(samples []float32)) error
}

// Camera exposes the most recent video frame
type Camera interface {
	Track
	// Frame returns the latest frame; ok is false until one has arrived
	Frame() (img image.Image, ok bool)
}

// Devices acquires capture hardware for one connection attempt
type Devices interface {
	OpenMicrophone(ctx context.Context) (Microphone, error)
	OpenCamera(ctx context.Context) (Camera, error)
	// OpenSpeaker starts pulling the output graph into a playback sink.
	// Stopping the returned track stops pulling; the graph stays open.
	OpenSpeaker(ctx context.Context, output *audio.Mixer) (Track, error)
}

// NoCamera is a Devices decorator for hosts without video capture
type NoCamera struct {
	Devices
}

// OpenCamera always fails with ErrDeviceNotFound
func (NoCamera) OpenCamera(ctx context.Context) (Camera, error) {
	return nil, ErrDeviceNotFound
}
