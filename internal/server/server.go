// Package server exposes an ExperienceBuffer over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/m-mizutani/goerr/v2"

	"ppo-experience-buffer/internal/buffer"
	"ppo-experience-buffer/internal/rollout"
)

var ErrNoCheckpointFolder = errors.New("no checkpoint folder configured")

// Server serializes every request through one mutex, since the buffer itself
// does no locking.
type Server[ID, Obs, Act, S any] struct {
	mu               sync.Mutex
	buffer           *buffer.ExperienceBuffer[ID, Obs, Act, S]
	checkpointFolder string
	now              func() time.Time
}

func New[ID, Obs, Act, S any](b *buffer.ExperienceBuffer[ID, Obs, Act, S], checkpointFolder string) *Server[ID, Obs, Act, S] {
	return &Server[ID, Obs, Act, S]{
		buffer:           b,
		checkpointFolder: checkpointFolder,
		now:              time.Now,
	}
}

type StatsResponse struct {
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	DType    string `json:"dtype"`
	Device   string `json:"device"`
}

type SubmitResponse[S any] struct {
	Accepted  int   `json:"accepted"`
	Size      int   `json:"size"`
	LatencyMs int64 `json:"latency_ms"`
	Summary   S     `json:"summary"`
}

type BatchesResponse[ID, Obs, Act any] struct {
	BatchSize int                            `json:"batch_size"`
	Batches   []rollout.Samples[ID, Obs, Act] `json:"batches"`
}

type CheckpointResponse struct {
	Folder string `json:"folder"`
	Size   int    `json:"size"`
}

func (s *Server[ID, Obs, Act, S]) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /submit", s.handleSubmit)
	mux.HandleFunc("GET /batches", s.handleBatches)
	mux.HandleFunc("POST /checkpoint", s.handleCheckpoint)
	return mux
}

func (s *Server[ID, Obs, Act, S]) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	payload := StatsResponse{
		Size:     s.buffer.Len(),
		Capacity: s.buffer.Capacity(),
		DType:    s.buffer.DType().String(),
		Device:   s.buffer.Device().Name(),
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server[ID, Obs, Act, S]) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req rollout.Batch[ID, Obs, Act]
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed batch", http.StatusBadRequest)
		return
	}

	accepted := 0
	for _, tr := range req.Trajectories {
		accepted += tr.Len()
	}

	s.mu.Lock()
	summary, err := s.buffer.SubmitExperience(req.Trajectories)
	size := s.buffer.Len()
	s.mu.Unlock()
	if err != nil {
		logs.Warnf("submit rejected: %v", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	var latency int64
	if req.BatchSentAtMs > 0 {
		latency = s.now().UnixMilli() - req.BatchSentAtMs
	}
	writeJSON(w, http.StatusOK, SubmitResponse[S]{
		Accepted:  accepted,
		Size:      size,
		LatencyMs: latency,
		Summary:   summary,
	})
}

func (s *Server[ID, Obs, Act, S]) handleBatches(w http.ResponseWriter, r *http.Request) {
	batchSize, err := strconv.Atoi(r.URL.Query().Get("batch_size"))
	if err != nil {
		http.Error(w, "batch_size must be an integer", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batches, err := s.buffer.ShuffledBatches(batchSize)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	response := BatchesResponse[ID, Obs, Act]{
		BatchSize: batchSize,
		Batches:   []rollout.Samples[ID, Obs, Act]{},
	}
	for batch := range batches {
		response.Batches = append(response.Batches, batch)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server[ID, Obs, Act, S]) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	size := s.buffer.Len()
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		logs.Errorf(err, "checkpoint failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, CheckpointResponse{Folder: s.checkpointFolder, Size: size})
}

// Checkpoint saves the buffer to the configured folder, waiting for any
// request in flight.
func (s *Server[ID, Obs, Act, S]) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Server[ID, Obs, Act, S]) saveLocked() error {
	if s.checkpointFolder == "" {
		return goerr.Wrap(ErrNoCheckpointFolder, "cannot save checkpoint")
	}
	return s.buffer.SaveCheckpoint(s.checkpointFolder)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, buffer.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoCheckpointFolder):
		return http.StatusConflict
	case errors.Is(err, buffer.ErrStorageFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logs.Warnf("failed to encode response: %v", err)
	}
}
