// Package authgate guards the HTTP surface with cookie-borne tokens.
//
// Every request outside a small public allow-list must carry a valid access
// token cookie. An expired access token triggers exactly one silent refresh
// rotation per request: on success both cookies are rewritten and the request
// proceeds as if nothing happened; on failure the request is rejected with
// 401 and no cookies are touched.
package authgate
