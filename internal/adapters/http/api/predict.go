package api

import (
	"errors"
	"net/http"

	"github.com/okian/lifeboat/internal/domain/model"
	"github.com/okian/lifeboat/internal/domain/prediction"
	"github.com/okian/lifeboat/pkg/logger"
	"github.com/okian/lifeboat/pkg/metrics"
)

// PredictHandler serves single and batch survival predictions.
type PredictHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewPredictHandler creates a new prediction handler.
func NewPredictHandler(deps Dependencies, log logger.Logger) *PredictHandler {
	return &PredictHandler{deps: deps, logger: log}
}

// HandlePredict handles POST /predict requests.
func (h *PredictHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "predict"
	if !allowMethod(w, r, op, http.MethodPost) {
		return
	}

	var req passengerRequest
	if !decodeBody(w, r, op, &req) {
		return
	}
	p, err := req.toPassenger()
	if err != nil {
		metrics.RecordPredictionError("validation")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", WrapKind(op, ErrValidation, err))
		return
	}

	res, err := h.deps.Predict(r.Context(), p)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePredictBatch handles POST /predict/batch requests.
// A passenger that fails coercion fails the whole batch with its index.
func (h *PredictHandler) HandlePredictBatch(w http.ResponseWriter, r *http.Request) {
	const op = "predict_batch"
	if !allowMethod(w, r, op, http.MethodPost) {
		return
	}

	var req batchRequest
	if !decodeBody(w, r, op, &req) {
		return
	}
	if req.Passengers == nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error",
			WrapKind(op, ErrValidation, errors.New("passengers is required")))
		return
	}

	ps := make([]model.RawPassenger, len(req.Passengers))
	for i := range req.Passengers {
		p, err := req.Passengers[i].toPassenger()
		if err != nil {
			metrics.RecordPredictionError("validation")
			writeServiceError(r.Context(), w, h.logger, op, prediction.NewBatchError(i, err))
			return
		}
		ps[i] = p
	}

	res, err := h.deps.PredictBatch(r.Context(), ps)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
