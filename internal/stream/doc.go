// Package stream delivers audio to transcription engines. BatchAdapter hands
// dispatched windows to a batch engine; StreamingAdapter owns the lifecycle of
// a persistent streaming connection, including the keepalive that holds an
// idle connection open until real audio starts flowing.
package stream
