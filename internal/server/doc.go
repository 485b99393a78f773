// Package server exposes the relay over HTTP: the WebSocket endpoint, health
// and presence endpoints, a browser test page, and helpers to start and stop
// the HTTP server.
package server
