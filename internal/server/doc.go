// Package server implements the HTTP and WebSocket side of the chat relay.
//
// A Hub tracks open connections and runs their read and write pumps. Each
// frame a client sends is handed to the Router, which applies it to the
// session registry and asks the Broadcaster to fan the resulting events out
// to the right connections. App wires these together with configuration,
// metrics and the HTTP routes.
package server
