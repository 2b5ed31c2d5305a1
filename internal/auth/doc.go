// Package auth verifies the JWT presented when a live session connects
// and carries the resulting tenant identity through the request context.
// The tenant id always comes from the verified token, never from
// anything the client sends over the socket.
package auth
