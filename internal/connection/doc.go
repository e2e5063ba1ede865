// Package connection implements the Streamlabs socket sessions and the
// Connection Manager that owns them.
//
// The Connection Manager:
//   - Creates one Session per configured streamer identity
//   - Starts and stops all sessions as a single unit
//   - Tears the whole client down when any session is rejected by the server
//
// Each Session owns one Client (a websocket speaking the Engine.IO v3 /
// Socket.IO framing the Streamlabs socket service uses), classifies its
// disconnects as intentional or unauthorized, and forwards "event"
// payloads through the normalizer to a dispatch.Dispatcher.
//
// There is no reconnection: a stopped client stays stopped until Start is
// called again.
package connection
