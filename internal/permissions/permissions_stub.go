//go:build !darwin

package permissions

// CheckMicrophoneAccess is a no-op on non-macOS platforms.
func CheckMicrophoneAccess() error {
	return nil
}
