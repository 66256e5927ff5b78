// Package pipeline wires capture, normalization, segmentation, enhancement and
// delivery together. A Runner is the shared context of one session: it owns
// the frame queue and the processing goroutine and ends the session when the
// device or a streaming connection fails.
package pipeline
