package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeMissingFeatures  = "missing_features"
	CodeInvalidFeature   = "invalid_feature"
	CodeInvalidFeedback  = "invalid_feedback"
	CodeModelUnavailable = "model_unavailable"
	CodeInvalidModel     = "invalid_model"
	CodeNotFound         = "not_found"
	CodeMirrorDisabled   = "audit_mirror_disabled"
	CodeInternal         = "internal_error"
)

const msgInternal = "An unexpected error occurred. Check the service logs for details."

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// translateError maps a pipeline error onto an HTTP status and a message an
// analyst can act on. Unrecognized errors are logged and reported as 500.
func translateError(err error) (int, ErrorResponse) {
	var (
		missingFeatures *domain.MissingFeaturesError
		invalidFeature  *domain.InvalidFeatureError
		missingArtifact *domain.MissingArtifactError
		invalidBundle   *domain.InvalidBundleError
	)

	switch {
	case errors.As(err, &missingFeatures):
		return http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "The transaction is missing features the model requires.",
			Code:    CodeMissingFeatures,
			Details: map[string]any{"missing": missingFeatures.Missing},
		}
	case errors.As(err, &invalidFeature):
		return http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "A feature value cannot be scored.",
			Code:    CodeInvalidFeature,
			Details: map[string]any{"feature": invalidFeature.Feature, "reason": invalidFeature.Reason},
		}
	case errors.As(err, &missingArtifact):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Model artifacts are not available. Train the model first.",
			Code:    CodeModelUnavailable,
			Details: map[string]any{"path": missingArtifact.Path},
		}
	case errors.As(err, &invalidBundle):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error:   "The model bundle is incomplete. Retrain the model.",
			Code:    CodeInvalidModel,
			Details: map[string]any{"missing": invalidBundle.Missing},
		}
	case errors.Is(err, domain.ErrInvalidBundle):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error: "The model bundle could not be read. Retrain the model.",
			Code:  CodeInvalidModel,
		}
	case errors.Is(err, pipeline.ErrInvalidFeedback):
		return http.StatusBadRequest, ErrorResponse{
			Error: "Feedback must be Valid or Invalid.",
			Code:  CodeInvalidFeedback,
		}
	case errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  CodeInvalidRequest,
		}
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{
			Error: "Event not found.",
			Code:  CodeNotFound,
		}
	default:
		slog.Error("request failed", "error", err)
		return http.StatusInternalServerError, ErrorResponse{
			Error: msgInternal,
			Code:  CodeInternal,
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := translateError(err)
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: CodeInvalidRequest})
}
