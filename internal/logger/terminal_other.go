//go:build !linux && !darwin

package logger

// isTerminal always reports false on platforms without termios support.
func isTerminal(_ uintptr) bool {
	return false
}
