// Package hh implements the providers.Provider interface for hh.ru OAuth2.
//
// The provider posts form-encoded requests to the hh.ru token endpoint using
// golang.org/x/oauth2 with credentials sent as form parameters, carries a
// fixed identifying User-Agent on every request (hh.ru rejects requests
// without one), and bounds each call with a request timeout.
package hh
