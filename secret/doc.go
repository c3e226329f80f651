// Package secret resolves credentials referenced from configuration.
//
// A value such as MEDIACACHE_TOKEN may hold the credential itself, an
// environment reference or a secret reference:
//
//	${API_TOKEN}                      strict environment expansion
//	secretref:env:API_TOKEN           read from the environment
//	secretref:file:/run/secrets/token read from a file
//	Bearer secretref:env:API_TOKEN    inline reference
//
// Resolved values are never logged.
package secret
