package api

import (
	"net/http"

	"github.com/okian/lifeboat/pkg/logger"
)

// ModelHandler reports metadata about the loaded classifier.
type ModelHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewModelHandler creates a new model info handler.
func NewModelHandler(deps Dependencies, log logger.Logger) *ModelHandler {
	return &ModelHandler{deps: deps, logger: log}
}

// HandleModelInfo handles GET /model/info requests.
func (h *ModelHandler) HandleModelInfo(w http.ResponseWriter, r *http.Request) {
	const op = "model_info"
	if !allowMethod(w, r, op, http.MethodGet) {
		return
	}
	info, err := h.deps.ModelInfo(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
