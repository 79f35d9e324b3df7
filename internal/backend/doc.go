// Package backend is the HTTP client for the voice backend API.
//
// Every call carries a bearer session token, a user agent and the logical
// group as a query parameter. Request bodies are JSON, optionally gzip
// compressed. Non-2xx responses become *HTTPError values that classify
// themselves as retryable (429 and 5xx) or terminal.
package backend
