// Package auth authenticates against the voice backend.
//
// Two disjoint credential kinds are supported: email and password, or an
// external single sign-on token exchanged for a session token. Rejections
// of the credentials themselves are terminal; every other failure is
// transient and retried by the connection manager.
//
// Session tokens are JWTs issued by the backend. They are decoded without
// signature verification, only to learn the user ID and expiry; the backend
// remains the authority on their validity.
package auth
