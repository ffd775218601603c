// Package identity implements Parley's user identity foundation.
//
// It contains the canonical User model, normalization rules, and the
// persistence stores used by the HTTP auth layer. Password hashing delegates
// to cmd/security/password.
package identity
