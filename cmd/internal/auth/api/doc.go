// Package authapi exposes the HTTP auth surface: register, login, logout,
// and the authenticated profile endpoint.
//
// Successful register/login set the token cookie pair via the auth gateway;
// logout revokes the device's refresh lineage and clears both cookies.
package authapi
