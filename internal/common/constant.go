package common

const (
	// OOBRedirectURI is the out-of-band redirect used when the authorization
	// code is pasted back by the user instead of delivered to a callback.
	OOBRedirectURI = "urn:ietf:wg:oauth:2.0:oob"

	// DefaultAppName is the client name registered with the instance and sent
	// as the User-Agent on authenticated requests.
	DefaultAppName = "fedisync"

	// DefaultScopes is the OAuth scope requested when none is configured.
	DefaultScopes = "read"
)
