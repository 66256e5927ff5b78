// Package vad provides a lightweight speech activity detector.
// It combines mean-square energy, zero-crossing rate and spectral centroid
// heuristics to decide whether a window of mono samples carries speech.
package vad
