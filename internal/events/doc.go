// Package events implements the line-delimited JSON protocol spoken with the host process.
// Ready, status, debug, error and transcription events go out one object per
// line; shutdown and keepalive commands come back on the control stream.
package events
