// Package log provides structured protocol event logging for the signage
// connectivity layer.
//
// Components emit Event values describing frames, decoded messages, state
// transitions, discovery traffic, and errors. Applications choose a sink:
// SlogAdapter for console output, FileLogger for compact CBOR capture
// files (replayable with Reader), MultiLogger to combine sinks, or
// NoopLogger/nil to disable logging entirely.
package log
