// Package enhance prepares speech windows for batch transcription.
// It applies DC removal, Butterworth band-pass filtering, spectral gating,
// compression, pre-emphasis and peak normalization, degrading each failing
// stage to a no-op or a simpler fallback.
package enhance
