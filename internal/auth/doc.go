// Package auth provides authentication middleware for the formsense HTTP API.
//
// APIKey(mode, header, key, next) wraps an http.Handler and validates the API
// key from the named request header. WebSocket clients that cannot set headers
// may pass the key as the api_key query parameter instead.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent
// the middleware answers 401 immediately.
package auth
