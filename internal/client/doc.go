// Package client implements the interactive quote client.
// Each menu choice opens a fresh UDP socket, sends one Selection and prints
// the fragments the server streams back.
package client
