package auth

import "errors"

var (
	// ErrAuthExpired is returned when a protected URL lands on a login page
	// and no retry recovered it.
	ErrAuthExpired = errors.New("authentication expired or missing")

	// ErrLoginFailed is returned when a form login could not be verified.
	ErrLoginFailed = errors.New("login failed")

	// ErrNoSession is returned when no live session is stored for a domain.
	ErrNoSession = errors.New("no stored live session")

	// ErrUnknownAuthType is returned when decoding a config with an
	// unsupported authType.
	ErrUnknownAuthType = errors.New("unknown auth type")

	// ErrInvalidConfig is returned when a config lacks a required field.
	ErrInvalidConfig = errors.New("invalid auth config")

	// ErrNoConfig is returned when no auth config could be resolved.
	ErrNoConfig = errors.New("no auth config")

	// ErrPassphraseRequired is returned when sealed material is loaded
	// without a passphrase.
	ErrPassphraseRequired = errors.New("passphrase required to open sealed credentials")

	// ErrUnseal is returned when sealed material cannot be opened.
	ErrUnseal = errors.New("cannot open sealed credentials")
)
