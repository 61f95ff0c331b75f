// Package session implements the stateful connection to one detector.
//
// A Session correlates every command with its response over a single transport, tracks the
// connection state and owns the reconnect policy:
//
//	Disconnected -> Connecting -> Ready -> Degraded -> Connecting -> Ready
//	                                                       \-> Degraded (retry failed)
//	                                                       \-> Disconnected (retries exhausted)
//
// Opening a session opens the transport and performs the handshake: SET_EXCHANGE, SET_TIME,
// firmware version check and serial number read. Transport failures degrade the session and
// close the link; decode and protocol errors fail only the call in progress.
//
// Commands are serialized. A command issued while the session is not Ready, including while a
// reconnect is in progress, fails at once with ErrNotConnected. Canceling the context of a
// command only stops it from waiting for its turn; an exchange already sent runs until the
// response or the exchange timeout.
//
// Sessions are configured with functional options, see NewConfig and the With* functions.
package session
