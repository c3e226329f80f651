// Package fetch is the HTTP transport the media cache refreshes through.
//
// Client implements cache.Fetcher against the media API. It encodes query
// parameters in caller order, attaches "Authorization: Bearer <token>" when
// the token source has a token, and reports any non-2xx answer as a
// *StatusError. A 403 also invokes the OnForbidden hook, which the CLI wires
// to auth.Session.Logout.
//
// Calls run through a resilience.Executor when one is configured.
// IsRetryable classifies failures: transport errors, 429 and 5xx are retried
// and count against the circuit, other statuses are permanent.
package fetch
