// Package registry maps logical thread ids to the live connection that
// currently owns them. Bindings are last-writer-wins: registering a
// thread from a new connection silently displaces the old owner, and a
// reverse index lets a disconnect release every thread a connection
// held without scanning the table.
package registry
