package record

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSession     = errors.New("record: no active session")
	ErrEmptySession  = errors.New("record: session has no records")
	ErrInvalidRecord = errors.New("record: invalid session file")
)

// Step is one persisted frame of a recorded session.
type Step struct {
	Timestamp   float64 `json:"timestamp"`
	StepNumber  int     `json:"step_number"`
	Direction   string  `json:"direction"`
	Command     string  `json:"command"`
	Nonce       uint32  `json:"nonce"`
	PayloadHex  string  `json:"payload_hex"`
	PayloadText *string `json:"payload_text"`
	FrameHex    string  `json:"frame_hex"`
}

// Session is the on-disk form of one recorded connection.
type Session struct {
	SessionID  string  `json:"session_id"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	TotalSteps int     `json:"total_steps"`
	Records    []Step  `json:"records"`
}

// SessionRecorder buffers the frames of one session in memory and writes them
// out as JSON. It implements Sink and is safe for concurrent use.
type SessionRecorder struct {
	mu      sync.Mutex
	id      string
	started time.Time
	steps   []Step
}

func NewSessionRecorder() *SessionRecorder {
	return &SessionRecorder{}
}

// Start begins a new session, discarding anything buffered, and returns its id.
func (r *SessionRecorder) Start() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = "session_" + uuid.NewString()
	r.started = time.Now()
	r.steps = r.steps[:0]
	log.Debug().Str("session_id", r.id).Msg("recording started")
	return r.id
}

// Record appends e to the active session. Events arriving before Start are dropped.
func (r *SessionRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id == "" {
		return
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	r.steps = append(r.steps, Step{
		Timestamp:   unixSeconds(ts),
		StepNumber:  len(r.steps) + 1,
		Direction:   string(e.Direction),
		Command:     e.Command,
		Nonce:       e.Nonce,
		PayloadHex:  hex.EncodeToString(e.Payload),
		PayloadText: payloadText(e.Payload),
		FrameHex:    hex.EncodeToString(e.Raw),
	})
}

func (r *SessionRecorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// Steps returns a copy of the buffered steps.
func (r *SessionRecorder) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Save writes the active session to dir/<session_id>.json and returns the path.
func (r *SessionRecorder) Save(dir string) (string, error) {
	r.mu.Lock()
	if r.id == "" {
		r.mu.Unlock()
		return "", ErrNoSession
	}
	if len(r.steps) == 0 {
		r.mu.Unlock()
		return "", ErrEmptySession
	}
	doc := Session{
		SessionID:  r.id,
		StartTime:  unixSeconds(r.started),
		EndTime:    unixSeconds(time.Now()),
		TotalSteps: len(r.steps),
		Records:    append([]Step(nil), r.steps...),
	}
	r.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("record: create dir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, doc.SessionID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("record: write %s: %w", path, err)
	}
	log.Info().Str("session_id", doc.SessionID).Str("path", path).Int("steps", doc.TotalSteps).Msg("session saved")
	return path, nil
}

// Load reads a session previously written by Save.
func Load(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if strings.TrimSpace(s.SessionID) == "" || s.TotalSteps != len(s.Records) {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidRecord, path)
	}
	return s, nil
}

func payloadText(p []byte) *string {
	if len(p) == 0 || !utf8.Valid(p) {
		return nil
	}
	s := string(p)
	return &s
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
