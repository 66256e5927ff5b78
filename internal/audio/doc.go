// Package audio handles sample normalization, rolling buffering and segmentation.
// It downmixes and resamples captured frames to 16 kHz mono, cuts speech
// windows out of a bounded rolling buffer, frames continuous streams into
// fixed chunks, and converts samples to PCM16 and WAV for transcription engines.
package audio
