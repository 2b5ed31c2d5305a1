// Package session terminates WebSocket connections for live
// conversation sessions. Each connection is authenticated up front,
// reads JSON operation frames, and receives JSON event frames: history
// pages, correlated replies to its own messages, and anything published
// to the groups it subscribed to.
package session
