// Package capture finds the system's loopback input device and reads audio
// from it. The resolver only enumerates devices; Loop owns the open stream
// and hands copied frames to the processing goroutine.
package capture
