// Package config defines the configuration of an Icore node.
//
// Regardless of how Icore is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. Non-secret options come
// from command line flags and an optional icore.toml (or .yaml, .json) in the
// data directory. Secrets are only read from the environment or from files in
// the data directory:
//
//  ICORE_AUTH_SECRET // HMAC key used to verify client access tokens.
//  ICORE_CALL_TOKEN_SECRET // HMAC key used to sign call tokens (cf. icore keygen).
//  ICORE_TURN_URL, ICORE_TURN_USERNAME, ICORE_TURN_PASSWORD // optional TURN server.
//  call_token.key // (optional) call token secret written by icore keygen.
package config
