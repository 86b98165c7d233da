package audio

import "errors"

// ErrSourceUnavailable indicates no capturable device or target was
// found at open time. Sources never report it mid-stream.
var ErrSourceUnavailable = errors.New("capture source unavailable")

// Source is the contract shared by the microphone and system-loopback
// capture paths. Open acquires the device and starts delivering frames
// into the source's own sink; Close stops capture and finalizes the
// sink, and may be called more than once.
type Source interface {
	Open(outputPath string) error
	Close() error

	// LastActivityLevel reports the most recent metered signal level,
	// in the source's own metering domain (device level for the mic,
	// RMS for loopback).
	LastActivityLevel() float64

	// SinkBytes reports how many PCM bytes the source has persisted,
	// or zero when no sink was ever created.
	SinkBytes() int64
}

// ActivityFunc is called by a source whenever its metered level crosses
// the activity threshold, resetting the shared silence clock.
type ActivityFunc func()
