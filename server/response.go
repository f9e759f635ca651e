package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/logger"
	"github.com/nvr-ai/go-detect/pipeline"
)

// Error codes reported in ErrorResponse.Code.
const (
	CodeInvalidParameter = "invalid_parameter"
	CodeInvalidImage     = "invalid_image"
	CodeTooLarge         = "upload_too_large"
	CodeInference        = "inference_error"
	CodeEncoding         = "encoding_error"
	CodeBusy             = "busy"
	CodeNotFound         = "not_found"
	CodeInternal         = "internal_error"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Detection is one detection in a response.
type Detection struct {
	Class      string     `json:"class"`
	ClassID    int        `json:"class_id"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"`
}

// DetectionResponse is the JSON body of a detect request.
type DetectionResponse struct {
	Count         int              `json:"count"`
	Detections    []Detection      `json:"detections"`
	Threshold     float32          `json:"threshold"`
	Image         images.Image     `json:"image"`
	SavedFilename string           `json:"saved_filename,omitempty"`
	SavedPath     string           `json:"saved_path,omitempty"`
	Timings       pipeline.Timings `json:"timings"`
}

// NewDetectionResponse builds the JSON body from a pipeline result.
func NewDetectionResponse(res *pipeline.Result, threshold float32) DetectionResponse {
	out := DetectionResponse{
		Count:      len(res.Detections),
		Detections: make([]Detection, len(res.Detections)),
		Threshold:  threshold,
		Image:      res.Image,
		Timings:    res.Timings,
	}
	for i, d := range res.Detections {
		out.Detections[i] = Detection{Class: d.Label, ClassID: d.ClassID, Confidence: d.Confidence, BBox: d.BBox()}
	}
	if res.Saved != nil {
		out.SavedFilename = res.Saved.Filename
		out.SavedPath = res.Saved.Path
	}
	return out
}

// writeJSON encodes body before writing the header. A body that cannot be
// encoded is logged and answered with a JSON 500.
func writeJSON(log *logger.Logger, w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Error("Failed to encode %T response: %v", body, err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(ErrorResponse{Code: CodeInternal, Message: "failed to encode response"})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		log.Warning("Failed to write response: %v", err)
	}
}

func sendErrorResponse(log *logger.Logger, w http.ResponseWriter, code, message string, status int) {
	writeJSON(log, w, status, ErrorResponse{Code: code, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	writeJSON(s.config.Log, w, status, body)
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendErrorResponse(s.config.Log, w, code, message, status)
}

// errorStatus maps the error taxonomy to an HTTP status and code.
func errorStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, CodeTooLarge
	case common.IsInvalidImage(err):
		return http.StatusBadRequest, CodeInvalidImage
	case errors.Is(err, inference.ErrAcquireTimeout), errors.Is(err, inference.ErrPoolClosed):
		return http.StatusServiceUnavailable, CodeBusy
	case common.IsInference(err):
		return http.StatusInternalServerError, CodeInference
	case common.IsEncoding(err):
		return http.StatusInternalServerError, CodeEncoding
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	s.writeJSON(w, status, ErrorResponse{Code: code, Message: http.StatusText(status), Details: err.Error()})
}
