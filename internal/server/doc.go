// Package server assembles the relay: the MongoDB store, the change
// feed watcher, the in-memory broadcaster, registry, and correlator,
// and the WebSocket session hub behind one HTTP listener.
package server
