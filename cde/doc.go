// Package cde talks to the Card Data Environment: the isolated origin that
// hosts sensitive-field iframes and the payment-processing API behind them.
//
// # Connections
//
// [Connect] performs the channel handshake over a [Transport], exchanges a
// per-channel HMAC key, and requires the remote side to answer a `ping`
// with a literal `true` before the [Connection] is handed out. Every frame
// after the handshake is signed with that key (see package signature).
//
// # Transports
//
// [PortTransport] multiplexes calls over an asynchronous message port, the
// shape of an iframe's postMessage channel. [HTTPTransport] posts the same
// frames to a CDE endpoint over HTTP behind a circuit breaker.
//
// # Errors
//
// A remote error envelope becomes a [*CdeError]. Step-up authentication is
// signalled only through provider-prefixed headers on that error; call
// [CdeError.StepUp] to get a typed [StepUpChallenge] instead of sniffing
// headers. Responses that do not match the expected schema fail with a
// [*SchemaValidationError].
package cde
