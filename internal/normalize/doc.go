// Package normalize converts stored BSON metadata into plain Go values
// that the session transport can serialize as JSON.
//
// Normalization is deliberately lossy-but-safe: values this subsystem
// does not recognize are stringified rather than rejected, so a single
// odd metadata field can never block delivery of a message.
package normalize
