// Package wire implements the small subset of HTTP/1.1 the chat bridge speaks
// directly over TCP: line reading, request parsing, form decoding, and
// response/event-stream writing.
//
// Nothing here depends on net/http. Parsing is deliberately lenient about
// Content-Length so that simple phone clients and test tools keep working.
package wire
