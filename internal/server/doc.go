// Package server implements the UDP dispatcher that accepts client selections and the HTTP
// API used to monitor sessions. The dispatcher reads every datagram itself and hands the
// decoded selection to a session worker, so handlers never read from the shared socket.
package server
