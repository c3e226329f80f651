// Package auth holds the client session used to talk to the media API.
//
// A Session keeps the bearer token and the signed-in user in the same
// blobstore.Storage as the media cache, under the names "token" and "user".
// Logout clears both and runs the registered hooks, typically clearing the
// media cache so another user never sees stale listings.
//
// Tokens are decoded with golang-jwt without verifying signatures; the client
// has no key and the server stays authoritative. A JWT whose exp has passed is
// treated as absent.
package auth
