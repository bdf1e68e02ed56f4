// Package api implements the HTTP handlers, request/response models and
// error mapping for the gateway's REST surface.
package api
