package api

import (
	"net/http"
)

// RootHandler answers the service banner at "/".
type RootHandler struct {
	deps Dependencies
}

// NewRootHandler creates a new root handler.
func NewRootHandler(deps Dependencies) *RootHandler {
	return &RootHandler{deps: deps}
}

type rootResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	ModelLoaded bool   `json:"model_loaded"`
}

// HandleRoot handles GET / requests. Unknown paths fall through here and get 404.
func (h *RootHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not_found", NewKind("root", ErrNotFound))
		return
	}
	if !allowMethod(w, r, "root", http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, rootResponse{
		Status:      "online",
		Message:     "Titanic Survival Prediction API",
		ModelLoaded: h.deps.ModelLoaded(),
	})
}
