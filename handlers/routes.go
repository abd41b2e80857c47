package handlers

import "net/http"

// RegisterRoutes mounts every endpoint on mux and returns the mux wrapped in
// the middleware chain.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("POST /api/generate", h.rateLimited(h.generate))
	mux.HandleFunc("GET /api/validate", h.validate)
	mux.HandleFunc("GET /admin/list", h.requireAdmin(h.list))
	mux.HandleFunc("GET /health", h.health)

	return Chain(
		mux,
		RequestID,
		Recovery(h.logger),
		AccessLog(h.logger),
		CORS(h.opts.AllowOrigin),
	)
}
