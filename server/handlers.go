package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/history"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/pipeline"
	"github.com/nvr-ai/go-detect/profiler"
)

type responseMode int

const (
	modeAuto responseMode = iota
	modeJSON
	modeImage
)

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Status     string   `json:"status"`
	Device     string   `json:"device"`
	Runtime    string   `json:"runtime"`
	Family     string   `json:"family"`
	ModelPath  string   `json:"model_path"`
	OutputsDir string   `json:"outputs_dir,omitempty"`
	Classes    []string `json:"classes"`
}

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	Pool             *inference.PoolMetrics `json:"pool,omitempty"`
	Profile          *profiler.Stats        `json:"profile,omitempty"`
	WebsocketClients int                    `json:"websocket_clients"`
}

// Event is broadcast to websocket viewers after each detection.
type Event struct {
	Type          string      `json:"type"`
	Time          time.Time   `json:"time"`
	Digest        string      `json:"digest"`
	Count         int         `json:"count"`
	Detections    []Detection `json:"detections"`
	SavedFilename string      `json:"saved_filename,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info := s.config.Info
	resp := StatusResponse{
		Status:    "running",
		Device:    info.Device,
		Runtime:   string(info.Runtime),
		Family:    string(info.Family),
		ModelPath: info.ModelPath,
		Classes:   info.Classes,
	}
	if resp.Classes == nil {
		resp.Classes = []string{}
	}
	if s.config.Store != nil {
		resp.OutputsDir = s.config.Store.Dir()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// detectParams are the parsed query parameters of a detect request.
type detectParams struct {
	conf        float32
	returnImage bool
	saveImage   bool
}

func (s *Server) parseDetectParams(r *http.Request, mode responseMode) (detectParams, error) {
	q := r.URL.Query()
	p := detectParams{conf: s.config.DefaultConf, saveImage: s.config.SaveImages}

	if v := q.Get("conf"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || !(f >= 0 && f <= 1) {
			return p, errors.Errorf("conf must be a number in [0, 1], got %q", v)
		}
		p.conf = float32(f)
	}

	switch mode {
	case modeJSON:
		p.returnImage = false
	case modeImage:
		p.returnImage = true
	default:
		if v := q.Get("return_image"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return p, errors.Errorf("return_image must be a boolean, got %q", v)
			}
			p.returnImage = b
		}
	}

	if v := q.Get("save_image"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, errors.Errorf("save_image must be a boolean, got %q", v)
		}
		p.saveImage = b
	}
	p.saveImage = p.saveImage && s.pipeline.CanSave()
	return p, nil
}

// readUpload returns the bytes of the multipart "file" part.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, common.NewInvalidImageError("missing file part", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, common.NewInvalidImageError("read upload", err)
	}
	return data, nil
}

func (s *Server) handleDetect(mode responseMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := s.parseDetectParams(r, mode)
		if err != nil {
			s.sendErrorResponse(w, CodeInvalidParameter, err.Error(), http.StatusBadRequest)
			return
		}

		data, err := s.readUpload(w, r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		res, err := s.pipeline.Process(r.Context(), data, pipeline.Options{
			Threshold:   params.conf,
			ReturnImage: params.returnImage,
			SaveImage:   params.saveImage,
		})
		if err != nil {
			s.config.Log.Warning("Detection failed: %v", err)
			s.writeError(w, err)
			return
		}

		resp := NewDetectionResponse(res, params.conf)
		s.record(r, res, params.conf)
		s.publish(resp, res.Digest)

		if !params.returnImage {
			s.writeJSON(w, http.StatusOK, resp)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("X-Detections-Count", strconv.Itoa(resp.Count))
		if res.Saved != nil {
			w.Header().Set("X-Saved-Filename", res.Saved.Filename)
			w.Header().Set("X-Saved-Path", res.Saved.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write(res.Annotated)
	}
}

// record stores the request in history. Failures are logged only.
func (s *Server) record(r *http.Request, res *pipeline.Result, threshold float32) {
	if s.config.History == nil {
		return
	}
	rec := history.Record{
		Digest:     res.Digest,
		Format:     string(res.Image.Format),
		Width:      res.Image.Width,
		Height:     res.Image.Height,
		Threshold:  threshold,
		Duration:   res.Duration,
		Detections: history.FromDetections(res.Detections),
	}
	if res.Saved != nil {
		rec.SavedFilename = res.Saved.Filename
	}
	if _, err := s.config.History.Insert(r.Context(), rec); err != nil {
		s.config.Log.Error("Failed to record detection history: %v", err)
	}
}

func (s *Server) publish(resp DetectionResponse, digest string) {
	if s.config.Hub == nil {
		return
	}
	msg, err := json.Marshal(Event{
		Type:          "detection",
		Time:          time.Now().UTC(),
		Digest:        digest,
		Count:         resp.Count,
		Detections:    resp.Detections,
		SavedFilename: resp.SavedFilename,
	})
	if err != nil {
		s.config.Log.Error("Failed to encode detection event: %v", err)
		return
	}
	if !s.config.Hub.Broadcast(msg) {
		s.config.Log.Warning("Event queue full, dropping detection event")
	}
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		s.sendErrorResponse(w, CodeNotFound, "image saving is disabled", http.StatusNotFound)
		return
	}
	path, err := s.config.Store.Path(mux.Vars(r)["name"])
	if err != nil {
		s.sendErrorResponse(w, CodeNotFound, "image not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if s.config.History == nil {
		s.sendErrorResponse(w, CodeNotFound, "history is disabled", http.StatusNotFound)
		return
	}

	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.sendErrorResponse(w, CodeInvalidParameter, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.config.History.Recent(r.Context(), limit)
	if err != nil {
		s.config.Log.Error("Failed to read detection history: %v", err)
		s.sendErrorResponse(w, CodeInternal, "failed to read history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var resp MetricsResponse
	if s.config.Pool != nil {
		m := s.config.Pool.Metrics()
		resp.Pool = &m
	}
	if s.config.Stats != nil {
		st := s.config.Stats.Snapshot()
		resp.Profile = &st
	}
	if s.config.Hub != nil {
		resp.WebsocketClients = s.config.Hub.ClientCount()
	}
	s.writeJSON(w, http.StatusOK, resp)
}
