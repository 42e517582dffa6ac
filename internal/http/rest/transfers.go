package rest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/objectdeck/objectdeck/internal/engine"
	"github.com/objectdeck/objectdeck/internal/history"
	"github.com/objectdeck/objectdeck/internal/logctx"
	"github.com/objectdeck/objectdeck/internal/queue"
)

const defaultHistoryLimit = 50

// TransfersHandler is the caller-facing surface of the queue: enqueue,
// cancel and observe transfer items, plus the operation history.
type TransfersHandler struct {
	username      string
	password      string
	defaultBucket string
	downloadDir   string
	uploads       *queue.Manager
	downloads     *queue.Manager
	hist          history.Log
}

// NewTransfersHandler creates a new transfers handler. defaultBucket and
// downloadDir fill in requests that don't name a bucket or a download
// destination themselves.
func NewTransfersHandler(username, password, defaultBucket, downloadDir string, uploads, downloads *queue.Manager, hist history.Log) *TransfersHandler {
	return &TransfersHandler{
		username:      username,
		password:      password,
		defaultBucket: defaultBucket,
		downloadDir:   downloadDir,
		uploads:       uploads,
		downloads:     downloads,
		hist:          hist,
	}
}

func (h *TransfersHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Post("/transfers", h.HandleEnqueue)
	r.Get("/transfers", h.HandleList)
	r.Get("/transfers/{id}", h.HandleGet)
	r.Delete("/transfers/{id}", h.HandleCancel)
	r.Get("/history", h.HandleHistory)

	return r
}

// EnqueueRequest is one batch of transfers for a single direction.
// Content carries an in-memory upload payload, base64 in JSON.
type EnqueueRequest struct {
	Direction string            `json:"direction"`
	Requests  []TransferRequest `json:"requests"`
}

type TransferRequest struct {
	ID              string `json:"id,omitempty"`
	Bucket          string `json:"bucket"`
	Content         []byte `json:"content,omitempty"`
	LocalPath       string `json:"localPath,omitempty"`
	RemoteKey       string `json:"remoteKey,omitempty"`
	DestinationKey  string `json:"destinationKey,omitempty"`
	DestinationPath string `json:"destinationPath,omitempty"`
	Aggregate       bool   `json:"aggregate,omitempty"`
}

type EnqueueResponse struct {
	IDs []string `json:"ids"`
}

// ItemView is the JSON projection of a transfer item.
type ItemView struct {
	ID               string    `json:"id"`
	Direction        string    `json:"direction"`
	Status           string    `json:"status"`
	Bucket           string    `json:"bucket,omitempty"`
	BytesTransferred int64     `json:"bytesTransferred"`
	TotalBytes       int64     `json:"totalBytes"`
	Error            string    `json:"error,omitempty"`
	EnqueuedAt       time.Time `json:"enqueuedAt"`
}

type ListResponse struct {
	Items  []ItemView     `json:"items"`
	Counts map[string]int `json:"counts"`
}

// HandleEnqueue accepts a batch of transfer requests.
func (h *TransfersHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if len(req.Requests) == 0 {
		http.Error(w, "no transfer requests", http.StatusBadRequest)

		return
	}

	var mgr *queue.Manager

	switch engine.Direction(req.Direction) {
	case engine.DirectionUpload:
		mgr = h.uploads
	case engine.DirectionDownload:
		mgr = h.downloads
	default:
		http.Error(w, "direction must be upload or download", http.StatusBadRequest)

		return
	}

	reqs := make([]queue.Request, 0, len(req.Requests))

	for _, tr := range req.Requests {
		bucket := tr.Bucket
		if bucket == "" {
			bucket = h.defaultBucket
		}

		destPath := tr.DestinationPath
		if destPath == "" && mgr == h.downloads {
			destPath = h.downloadDir
		}

		reqs = append(reqs, queue.Request{
			ID:              tr.ID,
			Bucket:          bucket,
			Content:         tr.Content,
			LocalPath:       tr.LocalPath,
			RemoteKey:       tr.RemoteKey,
			DestinationKey:  tr.DestinationKey,
			DestinationPath: destPath,
			Aggregate:       tr.Aggregate,
		})
	}

	ids, err := mgr.Enqueue(r.Context(), reqs...)
	if err != nil {
		var dup *queue.DuplicateIDError
		if errors.As(err, &dup) {
			http.Error(w, err.Error(), http.StatusConflict)

			return
		}

		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	writeJSON(w, http.StatusAccepted, EnqueueResponse{IDs: ids})
}

// HandleList returns all items of both directions plus per-status counts.
func (h *TransfersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	items := append(h.uploads.Store().Items(), h.downloads.Store().Items()...)

	views := make([]ItemView, 0, len(items))
	counts := make(map[string]int)

	for _, it := range items {
		views = append(views, itemView(it))
		counts[string(it.Status)]++
	}

	writeJSON(w, http.StatusOK, ListResponse{Items: views, Counts: counts})
}

// HandleGet returns one item by id.
func (h *TransfersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if it, ok := h.uploads.Store().Get(id); ok {
		writeJSON(w, http.StatusOK, itemView(it))

		return
	}

	if it, ok := h.downloads.Store().Get(id); ok {
		writeJSON(w, http.StatusOK, itemView(it))

		return
	}

	http.Error(w, "transfer not found", http.StatusNotFound)
}

// HandleCancel cancels a pending or active transfer.
func (h *TransfersHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.uploads.Cancel(r.Context(), id) || h.downloads.Cancel(r.Context(), id) {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	http.Error(w, "transfer not found or already terminal", http.StatusNotFound)
}

// HandleHistory returns recent operation-history records.
func (h *TransfersHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = parsed
	}

	records, err := h.hist.Recent(r.Context(), limit)
	if err != nil {
		logger.Error("failed to read history", "err", err)
		http.Error(w, "failed to read history", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *TransfersHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="objectdeck"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func itemView(it queue.Item) ItemView {
	view := ItemView{
		ID:               it.ID,
		Direction:        string(it.Direction),
		Status:           string(it.Status),
		Bucket:           it.Bucket,
		BytesTransferred: it.BytesTransferred,
		TotalBytes:       it.TotalBytes,
		EnqueuedAt:       it.EnqueuedAt,
	}

	if it.Err != nil {
		view.Error = it.Err.Error()
	}

	return view
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}
