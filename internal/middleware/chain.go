package middleware

import "net/http"

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// chain applies a fixed list of middlewares around a terminal handler.
type chain struct {
	middlewares []Middleware
}

// then runs the chain in registration order — the first middleware added
// becomes the outermost wrapper — ending at h.
func (c *chain) then(h http.Handler) http.Handler {
	if h == nil {
		h = http.DefaultServeMux
	}

	// Apply middlewares in reverse order so the first one added is outermost.
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}

	return h
}

// Builder assembles a fixed middleware chain in front of a handler. This is
// the only construction path Gateway.Handler uses: a static slot list
// (tracing, recovery, request ID, access log, the admission scheduler), not
// a dynamically reconfigured set, so there's no Chain/Append/Prepend/UseIf
// surface to build on top of it.
type Builder struct {
	middlewares []Middleware
}

// NewBuilder creates a new middleware builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Use adds a middleware to the builder.
func (b *Builder) Use(m Middleware) *Builder {
	b.middlewares = append(b.middlewares, m)
	return b
}

// Handler wraps h with all middlewares added via Use, outermost first.
func (b *Builder) Handler(h http.Handler) http.Handler {
	return (&chain{middlewares: b.middlewares}).then(h)
}
