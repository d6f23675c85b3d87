// Package protocol implements the wire format shared by the quote server and its clients.
// A client sends a fixed-size Selection record; the server answers with one
// NUL-terminated UTF-8 fragment per datagram.
package protocol
