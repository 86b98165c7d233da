package session

import "errors"

// Sentinel errors for the session lifecycle. Only microphone-path
// failures during Start surface to the caller; everything else
// degrades the session instead of aborting it.
var (
	// ErrAlreadyRecording rejects Start while a session is active.
	ErrAlreadyRecording = errors.New("recording already in progress")

	// ErrPermissionDenied means microphone access was refused.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrEncoderInitFailed means the microphone sink could not be
	// created.
	ErrEncoderInitFailed = errors.New("recording sink initialization failed")

	// ErrMixFailed reports a mix export failure. It is logged by the
	// controller and never surfaced as a session failure.
	ErrMixFailed = errors.New("mixing tracks failed")
)
