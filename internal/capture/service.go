// Package capture glues the frame pipeline together: decode, locate,
// classify, store the image, append the record. It also fans capture events
// out to live subscribers.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/moodcam/internal/blob"
	"github.com/user/moodcam/internal/emotion"
	"github.com/user/moodcam/internal/facedet"
	"github.com/user/moodcam/internal/imaging"
	"github.com/user/moodcam/internal/logger"
	"github.com/user/moodcam/internal/observability"
	"github.com/user/moodcam/internal/store"
)

// Service orchestrates per-frame processing and session lifecycle.
type Service struct {
	store      store.Store
	blobs      blob.Store
	classifier *emotion.Classifier
	faces      *facedet.Detector
	metrics    *observability.Metrics
	log        logger.Logger
	now        func() time.Time

	mu    sync.Mutex
	feeds map[string]map[chan store.Capture]struct{}
}

func New(
	st store.Store,
	blobs blob.Store,
	classifier *emotion.Classifier,
	faces *facedet.Detector,
	metrics *observability.Metrics,
	log logger.Logger,
) *Service {
	return &Service{
		store:      st,
		blobs:      blobs,
		classifier: classifier,
		faces:      faces,
		metrics:    metrics,
		log:        log,
		now:        time.Now,
		feeds:      make(map[string]map[chan store.Capture]struct{}),
	}
}

func (s *Service) StartSession(ctx context.Context) (store.Session, error) {
	sess, err := s.store.CreateSession(ctx)
	if err != nil {
		return store.Session{}, err
	}
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	s.refreshActiveGauge(ctx)
	s.log.Info("session started", "session_id", sess.ID)
	return sess, nil
}

// Capture processes one frame for an active session. Classification never
// fails; decode errors and store errors do.
func (s *Service) Capture(ctx context.Context, sessionID string, image []byte) (store.Capture, error) {
	started := s.now()

	grid, err := imaging.Decode(image)
	if err != nil {
		s.metrics.SessionEvents.WithLabelValues("capture_rejected").Inc()
		return store.Capture{}, err
	}

	var facePtr *imaging.Rect
	faceBox, faceFound := s.faces.Locate(grid)
	if faceFound {
		facePtr = &faceBox
	}

	result := s.classifier.Classify(grid, facePtr)
	s.metrics.ObserveClassifyLatency(s.now().Sub(started))

	key := fmt.Sprintf("%s_%s.jpg", sessionID, uuid.NewString()[:8])
	ref, err := s.blobs.Put(key, image, "image/jpeg")
	if err != nil {
		s.metrics.BlobErrors.WithLabelValues("put").Inc()
		return store.Capture{}, fmt.Errorf("store frame: %w", err)
	}

	rec := store.Capture{
		Timestamp:    s.now().UTC(),
		Emotion:      string(result.Emotion),
		Confidence:   result.Confidence,
		Source:       result.Source,
		FaceDetected: faceFound,
		ImageRef:     ref,
	}
	if faceFound {
		rec.FaceBox = &store.Box{
			X: faceBox.X, Y: faceBox.Y, Width: faceBox.Width, Height: faceBox.Height,
		}
	}

	appended, err := s.store.AppendCapture(ctx, sessionID, rec)
	if err != nil {
		// The frame was written before the append was refused; don't
		// leave it orphaned.
		if delErr := s.blobs.Delete(ref); delErr != nil {
			s.metrics.BlobErrors.WithLabelValues("delete").Inc()
			s.log.Warn("orphaned frame cleanup failed", "ref", ref, "error", delErr)
		}
		return store.Capture{}, err
	}

	s.metrics.CapturesTotal.WithLabelValues(appended.Source, appended.Emotion).Inc()
	s.publish(sessionID, appended)
	return appended, nil
}

func (s *Service) StopSession(ctx context.Context, sessionID string) (store.Summary, error) {
	summary, err := s.store.StopSession(ctx, sessionID)
	if err != nil {
		return store.Summary{}, err
	}
	s.metrics.SessionEvents.WithLabelValues("stopped").Inc()
	s.refreshActiveGauge(ctx)
	s.closeFeeds(sessionID)
	s.log.Info("session stopped",
		"session_id", sessionID,
		"duration_seconds", summary.DurationSeconds,
		"images_captured", summary.ImagesCaptured)
	return summary, nil
}

func (s *Service) ListSummaries(ctx context.Context) ([]store.Summary, error) {
	return s.store.ListSummaries(ctx)
}

func (s *Service) GetDetail(ctx context.Context, sessionID string) (store.Detail, error) {
	return s.store.GetDetail(ctx, sessionID)
}

// DeleteSession removes the session record, then releases each referenced
// frame best-effort. A frame that cannot be removed is logged, never fatal:
// the session record is already gone.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	removed, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, c := range removed.Captures {
		if err := s.blobs.Delete(c.ImageRef); err != nil {
			s.metrics.BlobErrors.WithLabelValues("delete").Inc()
			s.log.Warn("capture image not removed", "ref", c.ImageRef, "error", err)
		}
	}
	s.metrics.SessionEvents.WithLabelValues("deleted").Inc()
	s.refreshActiveGauge(ctx)
	s.closeFeeds(sessionID)
	return nil
}

func (s *Service) refreshActiveGauge(ctx context.Context) {
	summaries, err := s.store.ListSummaries(ctx)
	if err != nil {
		return
	}
	active := 0
	for _, sum := range summaries {
		if sum.Status == store.StatusActive {
			active++
		}
	}
	s.metrics.ActiveSessions.Set(float64(active))
}
