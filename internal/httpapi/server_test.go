package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/moodcam/internal/blob"
	"github.com/user/moodcam/internal/capture"
	"github.com/user/moodcam/internal/config"
	"github.com/user/moodcam/internal/emotion"
	"github.com/user/moodcam/internal/facedet"
	"github.com/user/moodcam/internal/logger"
	"github.com/user/moodcam/internal/observability"
	"github.com/user/moodcam/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Config{
		StoreBackend:   config.BackendJSON,
		AllowAnyOrigin: true,
	}
	sessions, err := store.NewFileStore(filepath.Join(dir, "sessions.json"), logger.Noop())
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	blobs := blob.NewFileStore(filepath.Join(dir, "captures"), "", "/static/session_captures", logger.Noop())
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	analyzer := emotion.NewAnalyzer(filepath.Join(dir, "missing_model.yaml"), logger.Noop())
	faces := facedet.New()
	svc := capture.New(sessions, blobs, emotion.NewClassifier(analyzer), faces, metrics, logger.Noop())

	ts := httptest.NewServer(New(cfg, svc, analyzer, faces, metrics).Router())
	t.Cleanup(ts.Close)
	return ts
}

func imagePayload(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func startSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/session/start", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", resp.StatusCode)
	}
	var body struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &body)
	if body.SessionID == "" {
		t.Fatalf("start returned empty session_id")
	}
	return body.SessionID
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	// Capture a black frame: heuristic stage, Sad.
	resp := postJSON(t, ts.URL+"/api/session/"+id+"/capture", map[string]string{"image_data": imagePayload(t)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capture status = %d, want 200", resp.StatusCode)
	}
	var rec store.Capture
	decodeBody(t, resp, &rec)
	if rec.Emotion != "Sad" || rec.Source != emotion.SourceHeuristic {
		t.Fatalf("capture = %s/%s, want Sad/heuristic", rec.Emotion, rec.Source)
	}

	// The session shows up first in the report list.
	resp, err := http.Get(ts.URL + "/api/session_reports")
	if err != nil {
		t.Fatalf("GET reports: %v", err)
	}
	var list struct {
		Sessions []store.Summary `json:"sessions"`
	}
	decodeBody(t, resp, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != id {
		t.Fatalf("reports = %+v, want one entry for %s", list.Sessions, id)
	}

	// Detail carries the capture timeline.
	resp, err = http.Get(ts.URL + "/api/session_reports/" + id)
	if err != nil {
		t.Fatalf("GET report detail: %v", err)
	}
	var detail store.Detail
	decodeBody(t, resp, &detail)
	if detail.Session.ImagesCaptured != 1 || len(detail.Timeline) != 1 {
		t.Fatalf("detail = %+v, want 1 capture", detail)
	}
	if detail.Timeline[0].ImagePath != rec.ImageRef {
		t.Fatalf("timeline image = %q, want %q", detail.Timeline[0].ImagePath, rec.ImageRef)
	}

	// Stop returns the final summary.
	resp = postJSON(t, ts.URL+"/api/session/"+id+"/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	var stopped struct {
		OK      bool          `json:"ok"`
		Summary store.Summary `json:"summary"`
	}
	decodeBody(t, resp, &stopped)
	if !stopped.OK || stopped.Summary.Status != store.StatusStopped {
		t.Fatalf("stop response = %+v", stopped)
	}
	if stopped.Summary.DominantEmotion != "Sad" {
		t.Fatalf("DominantEmotion = %q, want Sad", stopped.Summary.DominantEmotion)
	}

	// Delete, then the report is gone.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/session/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	resp, err = http.Get(ts.URL + "/api/session_reports/" + id)
	if err != nil {
		t.Fatalf("GET deleted report: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted report status = %d, want 404", resp.StatusCode)
	}
}

func TestCaptureErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	tests := []struct {
		name       string
		url        string
		body       map[string]string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing payload",
			url:        ts.URL + "/api/session/" + id + "/capture",
			body:       map[string]string{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_image",
		},
		{
			name:       "payload without comma",
			url:        ts.URL + "/api/session/" + id + "/capture",
			body:       map[string]string{"image_data": "garbage"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_image",
		},
		{
			name:       "bad base64",
			url:        ts.URL + "/api/session/" + id + "/capture",
			body:       map[string]string{"image_data": "data:image/png;base64,!!!"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_image",
		},
		{
			name:       "undecodable image",
			url:        ts.URL + "/api/session/" + id + "/capture",
			body:       map[string]string{"image_data": "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("nope"))},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_image",
		},
		{
			name:       "unknown session",
			url:        ts.URL + "/api/session/sess_missing/capture",
			body:       map[string]string{"image_data": imagePayload(t)},
			wantStatus: http.StatusNotFound,
			wantCode:   "session_not_found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, tt.url, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body struct {
				Code string `json:"code"`
			}
			decodeBody(t, resp, &body)
			if body.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestCaptureAfterStopConflicts(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/session/"+id+"/stop", nil)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/session/"+id+"/capture", map[string]string{"image_data": imagePayload(t)})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("capture-after-stop status = %d, want 409", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code != "session_stopped" {
		t.Fatalf("code = %q, want session_stopped", body.Code)
	}
}

func TestStopIsIdempotentOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	first := postJSON(t, ts.URL+"/api/session/"+id+"/stop", nil)
	var a struct {
		Summary store.Summary `json:"summary"`
	}
	decodeBody(t, first, &a)

	second := postJSON(t, ts.URL+"/api/session/"+id+"/stop", nil)
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second stop status = %d, want 200", second.StatusCode)
	}
	var b struct {
		Summary store.Summary `json:"summary"`
	}
	decodeBody(t, second, &b)
	if a.Summary.SessionID != b.Summary.SessionID || b.Summary.Status != store.StatusStopped {
		t.Fatalf("second stop summary = %+v, want same stopped session", b.Summary)
	}
}

func TestUnknownSessionStatuses(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/session/sess_missing/stop", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stop unknown status = %d, want 404", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/session/sess_missing", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE unknown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete unknown status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/session_reports/sess_missing")
	if err != nil {
		t.Fatalf("GET unknown report: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("report unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestModelStatus(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/model_status")
	if err != nil {
		t.Fatalf("GET model_status: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("model_status status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		AnalyzerReady     bool   `json:"analyzer_ready"`
		AnalyzerState     string `json:"analyzer_state"`
		AnalyzerReason    string `json:"analyzer_reason"`
		FaceDetectorReady bool   `json:"face_detector_ready"`
	}
	decodeBody(t, resp, &body)
	// The test server points the analyzer at a model file that does not
	// exist, so the cascade runs heuristics only.
	if body.AnalyzerReady || body.AnalyzerState != string(emotion.StateUnavailable) {
		t.Fatalf("analyzer status = %+v, want unavailable", body)
	}
	if body.AnalyzerReason == "" {
		t.Fatalf("analyzer_reason empty, want load failure detail")
	}
	if !body.FaceDetectorReady {
		t.Fatalf("face_detector_ready = false, want true")
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestLiveFeed(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/session/" + id + "/live"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial live feed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	postJSON(t, ts.URL+"/api/session/"+id+"/capture", map[string]string{"image_data": imagePayload(t)}).Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event struct {
		Type    string        `json:"type"`
		Capture store.Capture `json:"capture"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if event.Type != "capture" || event.Capture.Emotion != "Sad" {
		t.Fatalf("live event = %+v, want capture/Sad", event)
	}

	// Stopping the session closes the feed.
	postJSON(t, ts.URL+"/api/session/"+id+"/stop", nil).Body.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("feed delivered a message after stop, want close")
	} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("feed close error = %v, want normal closure", err)
	}
}

func TestLiveFeedUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/session/sess_missing/live")
	if err != nil {
		t.Fatalf("GET live: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("live unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestParseImagePayload(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	encoded := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)

	got, err := parseImagePayload(encoded)
	if err != nil {
		t.Fatalf("parseImagePayload() error = %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("payload = %v, want %v", got, raw)
	}

	for _, bad := range []string{"", "no-comma", "data:image/jpeg;base64,???"} {
		if _, err := parseImagePayload(bad); err == nil {
			t.Fatalf("parseImagePayload(%q) error = nil, want error", bad)
		}
	}
}
