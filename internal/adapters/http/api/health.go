package api

import (
	"net/http"
)

// Model status values reported by /health.
const (
	ModelStatusLoaded    = "loaded"
	ModelStatusNotLoaded = "not loaded"
)

// publicEndpoints is the route list advertised by /health.
var publicEndpoints = []string{"/", "/health", "/predict", "/predict/batch", "/model/info"}

// HealthHandler handles health check requests.
type HealthHandler struct {
	deps Dependencies
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps Dependencies) *HealthHandler {
	return &HealthHandler{deps: deps}
}

type healthResponse struct {
	Status      string   `json:"status"`
	ModelStatus string   `json:"model_status"`
	Endpoints   []string `json:"endpoints"`
}

// HandleHealth handles GET /health requests. The process is healthy even
// without a model; model_status tells the two apart.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, "health", http.MethodGet) {
		return
	}
	status := ModelStatusNotLoaded
	if h.deps.ModelLoaded() {
		status = ModelStatusLoaded
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		ModelStatus: status,
		Endpoints:   publicEndpoints,
	})
}
