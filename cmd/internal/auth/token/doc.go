// Package token implements Parley's identity-continuity protocol.
//
// It issues short-lived signed access tokens paired with long-lived,
// persisted, rotatable refresh tokens, and performs refresh rotation with
// reuse detection. Refresh records are scoped to a device fingerprint so
// every device of a user owns its own rotation lineage.
//
// Access and refresh tokens are both PASETO v4.public (Ed25519). Refresh
// tokens are additionally persisted as hashed records; the plaintext token
// never reaches storage.
//
// Transport (HTTP cookies, WebSocket query parameters) is intentionally out
// of scope here.
package token
