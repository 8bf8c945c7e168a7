// Package httpauth exposes the token engine over HTTP: login, refresh and
// logout handlers that keep the refresh token in an HttpOnly cookie, bearer
// authentication middleware, and role and resource guard middleware.
package httpauth
