// Package rdpbridge sits between a UI driving application and an opaque
// remote desktop engine.
//
// It translates connection bookmarks into the engine's argument tokens,
// keeps the lifecycle of engine session handles consistent (no duplicate
// connect, no free while a connection is busy) and routes engine events to
// the observer registered for each session.
package rdpbridge
