// Package transcription defines the batch and streaming engine contracts and their implementations.
// Batch engines (a local whisper command, the hosted Whisper API and a generic
// multipart HTTP endpoint) transcribe discrete windows; the streaming engine
// holds a websocket open and reports interim and final results through a Listener.
package transcription
