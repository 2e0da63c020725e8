// Package auth obtains and replays login sessions for a crawl.
//
// A Config is one of several variants selected by its authType field
// (basic, sso, saml, oauth, api_key, custom, none). Configs come from the
// command line, the site file, the backend API or the local Store, which also
// keeps live sessions captured by a person logging in once.
//
// Manager drives one crawl's authentication:
//
//	UNAUTHENTICATED -> DETECTING -> NONE
//	                             -> LIVE_SESSION_LOADED -> ACTIVE
//	                             -> FORM_AUTHENTICATED  -> ACTIVE
//	                             -> SSO_BEST_EFFORT     -> ACTIVE
//	ACTIVE -> EXPIRED -> ANONYMOUS_FALLBACK | re-authentication
//
// Expiry is detected by a fetch landing on a login-looking URL. Whether a
// login attempt worked is decided by a LoginSuccessDetector, so tests can
// swap in deterministic detectors.
//
// Configs that list protectedPaths or publicPaths are "smart": public paths
// are fetched anonymously, and a URL matching neither list is treated as
// protected.
package auth
