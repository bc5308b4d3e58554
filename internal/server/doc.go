// Package server implements the chat relay between phones on the local network
// and the desktop app.
//
// Phones talk to Server, which parses HTTP/1.1 directly off TCP connections
// (see package wire), serves the chat pages, accepts messages on /send and
// streams every message back on /events as server-sent events. The desktop
// app connects to DesktopBridge over a websocket. Both sides meet in Hub,
// which keeps the message history and fans each message out to every live
// subscriber, removing subscribers whose connection fails.
package server
