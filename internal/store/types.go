// Package store owns the Session -> Capture containment and the derived
// summary statistics. Three backends implement the same contract: a JSON
// file (whole-collection writes), bbolt, and Postgres.
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle state. Active transitions to Stopped
// exactly once; no capture is accepted after that.
type Status string

const (
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
)

// NoDominant is the dominant-emotion sentinel for sessions with no captures.
const NoDominant = "N/A"

// Box is a face rectangle in source-image pixel coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Capture is one classified frame. It is created exactly once by the
// orchestrator and never mutated afterwards.
type Capture struct {
	Timestamp    time.Time `json:"timestamp"`
	Emotion      string    `json:"emotion"`
	Confidence   float64   `json:"confidence"`
	Source       string    `json:"emotion_source"`
	FaceDetected bool      `json:"face_detected"`
	FaceBox      *Box      `json:"face_box,omitempty"`
	ImageRef     string    `json:"image_path"`
}

// Session is a bounded recording interval. EndedAt is nil iff the session
// is still active. Captures are append-only in chronological order.
type Session struct {
	ID        string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	Status    Status     `json:"status"`
	Captures  []Capture  `json:"captures"`
}

// Clone returns a deep copy so callers can't mutate stored state.
func (s Session) Clone() Session {
	out := s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
	}
	if s.Captures != nil {
		out.Captures = make([]Capture, len(s.Captures))
		copy(out.Captures, s.Captures)
		for i, c := range s.Captures {
			if c.FaceBox != nil {
				box := *c.FaceBox
				out.Captures[i].FaceBox = &box
			}
		}
	}
	return out
}

// Summary is derived on read, never persisted.
type Summary struct {
	SessionID       string `json:"session_id"`
	Date            string `json:"date"`
	DurationSeconds int    `json:"duration_seconds"`
	ImagesCaptured  int    `json:"images_captured"`
	DominantEmotion string `json:"dominant_emotion"`
	Status          Status `json:"status"`
}

// TimelineEntry is a capture annotated with its offset from session start.
type TimelineEntry struct {
	ElapsedSeconds int       `json:"elapsed_seconds"`
	Emotion        string    `json:"emotion"`
	Confidence     float64   `json:"confidence"`
	ImagePath      string    `json:"image_path"`
	Timestamp      time.Time `json:"timestamp"`
}

// Detail is the full session report: summary plus capture timeline.
type Detail struct {
	Session  Summary         `json:"session"`
	Timeline []TimelineEntry `json:"timeline"`
}

const summaryDateLayout = "2006-01-02 15:04:05 UTC"

// Summarize computes the derived statistics for a session. For active
// sessions the duration runs up to now; stopping fixes it.
func Summarize(s Session, now time.Time) Summary {
	ended := now
	if s.EndedAt != nil {
		ended = *s.EndedAt
	}
	duration := int(ended.Sub(s.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	return Summary{
		SessionID:       s.ID,
		Date:            s.StartedAt.UTC().Format(summaryDateLayout),
		DurationSeconds: duration,
		ImagesCaptured:  len(s.Captures),
		DominantEmotion: dominantEmotion(s.Captures),
		Status:          s.Status,
	}
}

// dominantEmotion is the most frequent capture emotion. Ties go to the
// emotion that occurred first in capture order.
func dominantEmotion(captures []Capture) string {
	if len(captures) == 0 {
		return NoDominant
	}
	counts := make(map[string]int, 8)
	var order []string
	for _, c := range captures {
		if counts[c.Emotion] == 0 {
			order = append(order, c.Emotion)
		}
		counts[c.Emotion]++
	}
	best := order[0]
	for _, emotion := range order[1:] {
		if counts[emotion] > counts[best] {
			best = emotion
		}
	}
	return best
}

// Timeline flattens a session's captures with elapsed-seconds offsets.
func Timeline(s Session) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(s.Captures))
	for _, c := range s.Captures {
		out = append(out, TimelineEntry{
			ElapsedSeconds: int(c.Timestamp.Sub(s.StartedAt).Seconds()),
			Emotion:        c.Emotion,
			Confidence:     c.Confidence,
			ImagePath:      c.ImageRef,
			Timestamp:      c.Timestamp,
		})
	}
	return out
}

// NewSessionID derives a session id from the clock. The random suffix keeps
// ids unique when two sessions start within the same microsecond.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("sess_%s_%s",
		now.UTC().Format("20060102150405.000000"),
		uuid.NewString()[:8])
}

// newSession builds a fresh active session.
func newSession(now time.Time) Session {
	return Session{
		ID:        NewSessionID(now),
		StartedAt: now.UTC(),
		Status:    StatusActive,
		Captures:  []Capture{},
	}
}

// prepareCapture normalizes a capture before append: UTC timestamps, and a
// floor at session start so the timeline never goes negative.
func prepareCapture(s Session, c Capture) Capture {
	c.Timestamp = c.Timestamp.UTC()
	if c.Timestamp.Before(s.StartedAt) {
		c.Timestamp = s.StartedAt
	}
	if n := len(s.Captures); n > 0 && c.Timestamp.Before(s.Captures[n-1].Timestamp) {
		c.Timestamp = s.Captures[n-1].Timestamp
	}
	return c
}
