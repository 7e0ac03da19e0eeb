package api

import "net/http"

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

type namedMiddleware struct {
	name string
	mw   Middleware
}

// Chain is an ordered middleware list. The first middleware added sees the
// request first.
type Chain struct {
	middlewares []namedMiddleware
}

// Use appends mw under name
func (c *Chain) Use(name string, mw Middleware) {
	c.middlewares = append(c.middlewares, namedMiddleware{name: name, mw: mw})
}

// Names returns the registered middleware names in request order
func (c *Chain) Names() []string {
	names := make([]string, len(c.middlewares))
	for i, m := range c.middlewares {
		names[i] = m.name
	}
	return names
}

// Then wraps h with every registered middleware
func (c *Chain) Then(h http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i].mw(h)
	}
	return h
}
