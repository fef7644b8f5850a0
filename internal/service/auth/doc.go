// Package auth issues and validates the HMAC-signed JWT access tokens that
// identify users to the session API and the push socket.
package auth
