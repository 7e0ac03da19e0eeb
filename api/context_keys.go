package api

import (
	"context"
	"net/http"
	"net/url"
)

// contextKey is a private type to prevent context key collisions across packages.
//
// This addresses staticcheck SA1029: should not use built-in type string as key for value.
type contextKey string

// Context keys for values the middleware chain attaches to a request
const (
	// ContextKeyLocals stores the view locals (Locals)
	ContextKeyLocals contextKey = "locals"

	// ContextKeyBody stores the parsed request body (map/slice for JSON, url.Values for forms)
	ContextKeyBody contextKey = "body"

	// ContextKeyCookies stores the parsed request cookies (map[string]string)
	ContextKeyCookies contextKey = "cookies"

	// ContextKeyOriginalMethod stores the method before override (string)
	ContextKeyOriginalMethod contextKey = "original_method"

	// ContextKeyClientIP stores the client address after proxy trust is applied (string)
	ContextKeyClientIP contextKey = "client_ip"
)

// Locals holds per-request values exposed to views
type Locals map[string]interface{}

// GetLocals extracts the view locals from the context.
// Returns nil if the locals middleware has not run.
func GetLocals(ctx context.Context) Locals {
	locals, _ := ctx.Value(ContextKeyLocals).(Locals)
	return locals
}

// WithLocals creates a new context with the view locals.
func WithLocals(ctx context.Context, locals Locals) context.Context {
	return context.WithValue(ctx, ContextKeyLocals, locals)
}

// GetBody extracts the parsed request body.
// Returns nil and false when the request had no parseable body.
func GetBody(ctx context.Context) (interface{}, bool) {
	body := ctx.Value(ContextKeyBody)
	if body == nil {
		return nil, false
	}
	return body, true
}

// GetFormBody extracts a parsed URL-encoded body
func GetFormBody(ctx context.Context) (url.Values, bool) {
	form, ok := ctx.Value(ContextKeyBody).(url.Values)
	return form, ok
}

// WithBody creates a new context with the parsed request body.
func WithBody(ctx context.Context, body interface{}) context.Context {
	return context.WithValue(ctx, ContextKeyBody, body)
}

// GetCookies extracts the parsed cookie map. Never nil once the cookie
// parser has run.
func GetCookies(ctx context.Context) (map[string]string, bool) {
	cookies, ok := ctx.Value(ContextKeyCookies).(map[string]string)
	return cookies, ok
}

// WithCookies creates a new context with the parsed cookie map.
func WithCookies(ctx context.Context, cookies map[string]string) context.Context {
	return context.WithValue(ctx, ContextKeyCookies, cookies)
}

// GetOriginalMethod returns the request method as received, before any override.
func GetOriginalMethod(r *http.Request) string {
	if m, ok := r.Context().Value(ContextKeyOriginalMethod).(string); ok {
		return m
	}
	return r.Method
}

// WithOriginalMethod creates a new context remembering the received method.
func WithOriginalMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, ContextKeyOriginalMethod, method)
}

// GetClientIP extracts the client IP resolved by the proxy-aware middleware.
func GetClientIP(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(ContextKeyClientIP).(string)
	return ip, ok
}

// WithClientIP creates a new context with the resolved client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}
