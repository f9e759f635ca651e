package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/history"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/logger"
	"github.com/nvr-ai/go-detect/storage"
)

type fakeDetector struct {
	dets  []common.Detection
	err   error
	panic bool
}

func (d *fakeDetector) Detect(context.Context, gocv.Mat) ([]common.Detection, error) {
	if d.panic {
		panic("native crash")
	}
	return d.dets, d.err
}

type memHistory struct {
	mu      sync.Mutex
	records []history.Record
	err     error
}

func (h *memHistory) Insert(_ context.Context, rec history.Record) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return 0, h.err
	}
	rec.ID = int64(len(h.records) + 1)
	h.records = append(h.records, rec)
	return rec.ID, nil
}

func (h *memHistory) Recent(_ context.Context, limit int) ([]history.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit > len(h.records) {
		limit = len(h.records)
	}
	return append([]history.Record{}, h.records[:limit]...), nil
}

type staticPool inference.PoolMetrics

func (p staticPool) Metrics() inference.PoolMetrics { return inference.PoolMetrics(p) }

var leaves = []common.Detection{
	{Label: "leaf", ClassID: 1, Confidence: 0.9, X1: 10, Y1: 10, X2: 60, Y2: 50},
	{Label: "leaf", ClassID: 1, Confidence: 0.3, X1: 20, Y1: 20, X2: 40, Y2: 40},
	{Label: "spot", ClassID: 2, Confidence: 0.1, X1: 5, Y1: 5, X2: 15, Y2: 15},
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, 120, 0), height, width, gocv.MatTypeCV8UC3)
	defer img.Close()
	data, err := images.EncodePNG(img)
	require.NoError(t, err)
	return data
}

func uploadRequest(t *testing.T, target, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, "upload.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newTestServer(t *testing.T, config Config) *Server {
	t.Helper()
	if config.Detector == nil {
		config.Detector = &fakeDetector{dets: leaves}
	}
	if config.Log == nil {
		config.Log = logger.Discard()
	}
	if config.DefaultConf == 0 {
		config.DefaultConf = 0.25
	}
	return New(config)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStatusAndHealth(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	s := newTestServer(t, Config{
		Store: store,
		Info: inference.Info{
			Family:    "fasterrcnn",
			Runtime:   inference.RuntimeONNX,
			Device:    "cpu",
			ModelPath: "models/leaf.onnx",
			Classes:   []string{"__background__", "leaf"},
		},
	})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "cpu", status.Device)
	assert.Equal(t, "onnxruntime", status.Runtime)
	assert.Equal(t, "fasterrcnn", status.Family)
	assert.Equal(t, "models/leaf.onnx", status.ModelPath)
	assert.Equal(t, store.Dir(), status.OutputsDir)
	assert.Equal(t, []string{"__background__", "leaf"}, status.Classes)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDetectJSON(t *testing.T) {
	tests := []struct {
		name   string
		target string
		count  int
		conf   float32
	}{
		{name: "default threshold", target: "/detect", count: 2, conf: 0.25},
		{name: "explicit threshold", target: "/detect?conf=0.5", count: 1, conf: 0.5},
		{name: "zero keeps everything", target: "/detect?conf=0", count: 3, conf: 0},
		{name: "one keeps nothing", target: "/detect?conf=1", count: 0, conf: 1},
		{name: "json alias ignores return_image", target: "/predict-json?return_image=true", count: 2, conf: 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Config{})
			rec := serve(s, uploadRequest(t, tt.target, "file", pngBytes(t, 100, 80)))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body DetectionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.count, body.Count)
			assert.Len(t, body.Detections, tt.count)
			assert.Equal(t, tt.conf, body.Threshold)
			assert.Equal(t, 100, body.Image.Width)
			assert.Empty(t, body.SavedFilename)
			for _, d := range body.Detections {
				assert.GreaterOrEqual(t, d.Confidence, tt.conf)
			}
		})
	}
}

func TestDetectResponseFields(t *testing.T) {
	s := newTestServer(t, Config{})
	rec := serve(s, uploadRequest(t, "/detect?conf=0.5", "file", pngBytes(t, 100, 80)))
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "timings")
	assert.NotContains(t, raw, "saved_filename")

	det := raw["detections"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "leaf", det["class"])
	assert.Equal(t, float64(1), det["class_id"])
	assert.Equal(t, []interface{}{float64(10), float64(10), float64(60), float64(50)}, det["bbox"])
}

func TestDetectImage(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	s := newTestServer(t, Config{Store: store, SaveImages: true})

	for _, target := range []string{"/detect?return_image=true", "/predict-image"} {
		t.Run(target, func(t *testing.T) {
			rec := serve(s, uploadRequest(t, target, "file", pngBytes(t, 100, 80)))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
			assert.Equal(t, "2", rec.Header().Get("X-Detections-Count"))
			assert.Equal(t, images.FormatJPEG, images.DetectFormat(rec.Body.Bytes()))

			name := rec.Header().Get("X-Saved-Filename")
			require.True(t, storage.ValidName(name), name)
			assert.Equal(t, filepath.Join(store.Dir(), name), rec.Header().Get("X-Saved-Path"))

			out := serve(s, httptest.NewRequest(http.MethodGet, "/outputs/"+name, nil))
			require.Equal(t, http.StatusOK, out.Code)
			assert.Equal(t, images.FormatJPEG, images.DetectFormat(out.Body.Bytes()))
		})
	}
}

func TestDetectSaveImageFlag(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	s := newTestServer(t, Config{Store: store, SaveImages: true})

	rec := serve(s, uploadRequest(t, "/detect", "file", pngBytes(t, 64, 64)))
	require.Equal(t, http.StatusOK, rec.Code)
	var saved DetectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.NotEmpty(t, saved.SavedFilename)
	assert.NotEmpty(t, saved.SavedPath)

	rec = serve(s, uploadRequest(t, "/detect?save_image=false", "file", pngBytes(t, 64, 64)))
	require.Equal(t, http.StatusOK, rec.Code)
	var unsaved DetectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unsaved))
	assert.Empty(t, unsaved.SavedFilename)
}

func TestDetectBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
		code   string
	}{
		{
			name:   "conf above one",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect?conf=1.5", "file", pngBytes(t, 10, 10)) },
			status: http.StatusBadRequest,
			code:   CodeInvalidParameter,
		},
		{
			name:   "negative conf",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect?conf=-0.1", "file", pngBytes(t, 10, 10)) },
			status: http.StatusBadRequest,
			code:   CodeInvalidParameter,
		},
		{
			name:   "conf not a number",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect?conf=high", "file", pngBytes(t, 10, 10)) },
			status: http.StatusBadRequest,
			code:   CodeInvalidParameter,
		},
		{
			name:   "conf is NaN",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect?conf=NaN", "file", pngBytes(t, 10, 10)) },
			status: http.StatusBadRequest,
			code:   CodeInvalidParameter,
		},
		{
			name:   "conf is infinite",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect?conf=Inf", "file", pngBytes(t, 10, 10)) },
			status: http.StatusBadRequest,
			code:   CodeInvalidParameter,
		},
		{
			name:   "conf is negative infinity",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect?conf=-Inf", "file", pngBytes(t, 10, 10)) },
			status: http.StatusBadRequest,
			code:   CodeInvalidParameter,
		},
		{
			name:   "bad return_image",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect?return_image=maybe", "file", pngBytes(t, 10, 10)) },
			status: http.StatusBadRequest,
			code:   CodeInvalidParameter,
		},
		{
			name:   "bad save_image",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect?save_image=2", "file", pngBytes(t, 10, 10)) },
			status: http.StatusBadRequest,
			code:   CodeInvalidParameter,
		},
		{
			name:   "missing file part",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect", "image", pngBytes(t, 10, 10)) },
			status: http.StatusBadRequest,
			code:   CodeInvalidImage,
		},
		{
			name:   "not an image",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect", "file", []byte("hello world")) },
			status: http.StatusBadRequest,
			code:   CodeInvalidImage,
		},
		{
			name:   "empty file",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/detect", "file", nil) },
			status: http.StatusBadRequest,
			code:   CodeInvalidImage,
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("raw"))
			},
			status: http.StatusBadRequest,
			code:   CodeInvalidImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Config{})
			rec := serve(s, tt.req(t))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestDetectUploadTooLarge(t *testing.T) {
	s := newTestServer(t, Config{MaxUploadBytes: 1024})
	rec := serve(s, uploadRequest(t, "/detect", "file", bytes.Repeat([]byte{0xff}, 8192)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodeTooLarge, decodeError(t, rec).Code)
}

func TestDetectErrors(t *testing.T) {
	tests := []struct {
		name     string
		detector *fakeDetector
		status   int
		code     string
	}{
		{
			name:     "inference failure",
			detector: &fakeDetector{err: common.NewInferenceError("run", errors.New("bad shape"))},
			status:   http.StatusInternalServerError,
			code:     CodeInference,
		},
		{
			name:     "untyped failure",
			detector: &fakeDetector{err: errors.New("boom")},
			status:   http.StatusInternalServerError,
			code:     CodeInference,
		},
		{
			name:     "pool busy",
			detector: &fakeDetector{err: common.NewInferenceError("acquire", inference.ErrAcquireTimeout)},
			status:   http.StatusServiceUnavailable,
			code:     CodeBusy,
		},
		{
			name:     "panic",
			detector: &fakeDetector{panic: true},
			status:   http.StatusInternalServerError,
			code:     CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Config{Detector: tt.detector})
			rec := serve(s, uploadRequest(t, "/detect", "file", pngBytes(t, 32, 32)))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{common.NewInvalidImageError("decode", nil), http.StatusBadRequest, CodeInvalidImage},
		{common.NewInferenceError("run", nil), http.StatusInternalServerError, CodeInference},
		{common.NewInferenceError("acquire", inference.ErrPoolClosed), http.StatusServiceUnavailable, CodeBusy},
		{common.NewEncodingError("jpg", nil), http.StatusInternalServerError, CodeEncoding},
		{errors.Wrap(&http.MaxBytesError{Limit: 1}, "read"), http.StatusRequestEntityTooLarge, CodeTooLarge},
		{errors.New("other"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestWriteJSONUnencodableBody(t *testing.T) {
	var errs bytes.Buffer
	log := logger.NewWithWriters(io.Discard, io.Discard, &errs)

	rec := httptest.NewRecorder()
	writeJSON(log, rec, http.StatusOK, map[string]float32{"threshold": math32.NaN()})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeInternal, body.Code)
	assert.Contains(t, errs.String(), "unsupported value")
}

func TestOutputs(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	s := newTestServer(t, Config{Store: store})

	for _, name := range []string{"missing.jpg", "pred_1_1.jpg", "pred_1_1.png"} {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/outputs/"+name, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, name)
	}

	disabled := newTestServer(t, Config{})
	rec := serve(disabled, httptest.NewRequest(http.MethodGet, "/outputs/pred_1_1.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDetectionsHistory(t *testing.T) {
	hist := &memHistory{}
	s := newTestServer(t, Config{History: hist})

	for i := 0; i < 3; i++ {
		rec := serve(s, uploadRequest(t, "/detect?conf=0.5", "file", pngBytes(t, 40, 30)))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Len(t, hist.records, 3)
	assert.Equal(t, float32(0.5), hist.records[0].Threshold)
	assert.Equal(t, 40, hist.records[0].Width)
	assert.Equal(t, "png", hist.records[0].Format)
	require.Len(t, hist.records[0].Detections, 1)
	assert.Equal(t, "leaf", hist.records[0].Detections[0].Class)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/detections?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var records []history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 2)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/detections?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(newTestServer(t, Config{}), httptest.NewRequest(http.MethodGet, "/detections", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryFailureDoesNotFailRequest(t *testing.T) {
	s := newTestServer(t, Config{History: &memHistory{err: errors.New("locked")}})
	rec := serve(s, uploadRequest(t, "/detect", "file", pngBytes(t, 16, 16)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, Config{Pool: staticPool{Size: 2, InUse: 1, TotalAcquired: 7}})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Pool)
	assert.Equal(t, 2, body.Pool.Size)
	assert.Equal(t, int64(7), body.Pool.TotalAcquired)
	assert.Nil(t, body.Profile)
	assert.Zero(t, body.WebsocketClients)
}

func TestNotFoundAndMethod(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/detect", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebsocketEvents(t *testing.T) {
	hub := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	s := newTestServer(t, Config{Hub: hub})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	rec := serve(s, uploadRequest(t, "/detect?conf=0.5", "file", pngBytes(t, 32, 32)))
	require.Equal(t, http.StatusOK, rec.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "detection", event.Type)
	assert.Equal(t, 1, event.Count)
	require.Len(t, event.Detections, 1)
	assert.Equal(t, "leaf", event.Detections[0].Class)
	assert.NotEmpty(t, event.Digest)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubStopsOnCancel(t *testing.T) {
	hub := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	assert.True(t, hub.Broadcast([]byte("queued")))
	assert.Zero(t, hub.ClientCount())
}
