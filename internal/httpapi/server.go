// Package httpapi is the thin transport over the capture service: payload
// framing, status mapping, and the live capture feed. No domain logic here.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/user/moodcam/internal/capture"
	"github.com/user/moodcam/internal/config"
	"github.com/user/moodcam/internal/emotion"
	"github.com/user/moodcam/internal/facedet"
	"github.com/user/moodcam/internal/imaging"
	"github.com/user/moodcam/internal/observability"
	"github.com/user/moodcam/internal/store"
)

type Server struct {
	cfg      config.Config
	svc      *capture.Service
	analyzer *emotion.Analyzer
	faces    *facedet.Detector
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	svc *capture.Service,
	analyzer *emotion.Analyzer,
	faces *facedet.Detector,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:      cfg,
		svc:      svc,
		analyzer: analyzer,
		faces:    faces,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/api/model_status", s.handleModelStatus)
	r.Post("/api/session/start", s.handleStartSession)
	r.Post("/api/session/{id}/capture", s.handleCapture)
	r.Post("/api/session/{id}/stop", s.handleStopSession)
	r.Delete("/api/session/{id}", s.handleDeleteSession)
	r.Get("/api/session/{id}/live", s.handleLiveFeed)
	r.Get("/api/session_reports", s.handleListReports)
	r.Get("/api/session_reports/{id}", s.handleReportDetail)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"store_backend": s.cfg.StoreBackend,
	})
}

func (s *Server) handleModelStatus(w http.ResponseWriter, _ *http.Request) {
	state, reason := s.analyzer.State()
	detState, detReason := s.faces.State()
	respondJSON(w, http.StatusOK, map[string]any{
		"analyzer_ready":       state == emotion.StateReady,
		"analyzer_state":       state,
		"analyzer_reason":      reason,
		"face_detector_ready":  detState == facedet.StateReady,
		"face_detector_reason": detReason,
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.StartSession(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"session_id": sess.ID})
}

type captureRequest struct {
	ImageData string `json:"image_data"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req captureRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	payload, err := parseImagePayload(req.ImageData)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_image", err.Error())
		return
	}

	rec, err := s.svc.Capture(r.Context(), id, payload)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.StopSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "summary": summary})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.svc.ListSummaries(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) handleReportDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.GetDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, store.ErrNotActive):
		respondError(w, http.StatusConflict, "session_stopped", err.Error())
	case errors.Is(err, imaging.ErrDecode):
		respondError(w, http.StatusBadRequest, "invalid_image", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// parseImagePayload decodes a base64 data-URL-style payload
// ("data:image/jpeg;base64,....") into raw bytes.
func parseImagePayload(imageData string) ([]byte, error) {
	idx := strings.IndexByte(imageData, ',')
	if imageData == "" || idx < 0 {
		return nil, errors.New("invalid image payload")
	}
	decoded, err := base64.StdEncoding.DecodeString(imageData[idx+1:])
	if err != nil {
		return nil, errors.New("invalid base64 image data")
	}
	return decoded, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
