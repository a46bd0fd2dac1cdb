// Package handlers implements the HTTP ingestion and status-query surface.
// It sits strictly at the boundary: files enter the system here, outcomes
// are read here, and all processing happens behind the queue.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/dvloznov/cnab-ingest/internal/api/middleware"
	"github.com/dvloznov/cnab-ingest/internal/blob"
	"github.com/dvloznov/cnab-ingest/internal/domain"
	"github.com/dvloznov/cnab-ingest/internal/jobs"
	"github.com/dvloznov/cnab-ingest/internal/postgres"
)

// maxUploadBytes bounds a single CNAB upload (80 bytes + newline per line;
// 32 MiB is far beyond any real file).
const maxUploadBytes = 32 << 20

// DeadLetterLister exposes the dead-letter sink contents for inspection.
type DeadLetterLister interface {
	List() []jobs.DeadLetter
}

// FilesHandler handles file endpoints.
type FilesHandler struct {
	store       *postgres.Store
	publisher   jobs.Publisher
	uploader    blob.Uploader
	deadLetters DeadLetterLister
	cache       *gocache.Cache
	log         zerolog.Logger
}

// NewFilesHandler creates the handler. Balance responses are cached briefly
// because they are derived on every read.
func NewFilesHandler(store *postgres.Store, publisher jobs.Publisher, uploader blob.Uploader, deadLetters DeadLetterLister, log zerolog.Logger) *FilesHandler {
	return &FilesHandler{
		store:       store,
		publisher:   publisher,
		uploader:    uploader,
		deadLetters: deadLetters,
		cache:       gocache.New(30*time.Second, time.Minute),
		log:         log,
	}
}

// Register mounts the routes on the router.
func (h *FilesHandler) Register(r *mux.Router) {
	r.HandleFunc("/files", h.Upload).Methods(http.MethodPost)
	r.HandleFunc("/files", h.List).Methods(http.MethodGet)
	r.HandleFunc("/files/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/files/{id}/balances", h.Balances).Methods(http.MethodGet)
	r.HandleFunc("/files/{id}/attempts", h.Attempts).Methods(http.MethodGet)
	r.HandleFunc("/dead-letters", h.DeadLetters).Methods(http.MethodGet)
}

// fileResponse is the status-query payload. Status carries one of the four
// canonical strings verbatim.
type fileResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Size         int64      `json:"size"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	Transactions *int       `json:"transactions,omitempty"`
}

func toFileResponse(f domain.File) fileResponse {
	return fileResponse{
		ID:           f.ID,
		Name:         f.Name,
		Size:         f.Size,
		Status:       string(f.Status),
		ErrorMessage: f.ErrorMessage,
		UploadedAt:   f.UploadedAt,
		ProcessedAt:  f.ProcessedAt,
	}
}

// Upload handles POST /files: stores the raw bytes, creates the file row in
// its initial state and publishes the work item.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Form field 'file' is required")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Could not read upload")
		return
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Uploaded file is empty")
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to generate file id")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create file")
		return
	}

	now := time.Now().UTC()
	blobKey := fmt.Sprintf("cnab/%s/%s-%s", now.Format("2006/01/02"), id, header.Filename)

	if err := h.uploader.Upload(ctx, blobKey, data); err != nil {
		h.log.Error().Err(err).Str("blob_key", blobKey).Msg("Blob upload failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	f := &domain.File{
		ID:         id.String(),
		Name:       header.Filename,
		Size:       int64(len(data)),
		BlobKey:    blobKey,
		Status:     domain.StatusUploaded,
		UploadedAt: now,
	}
	if err := h.store.CreateFile(ctx, f); err != nil {
		h.log.Error().Err(err).Str("file_id", f.ID).Msg("Failed to create file row")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create file")
		return
	}

	job := jobs.FileJob{
		FileID:     f.ID,
		BlobKey:    blobKey,
		FileName:   f.Name,
		UploadedAt: now,
	}
	if err := h.publisher.Publish(ctx, job); err != nil {
		h.log.Error().Err(err).Str("file_id", f.ID).Msg("Failed to publish work item")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue file")
		return
	}

	h.log.Info().Str("file_id", f.ID).Str("name", f.Name).Int64("size", f.Size).Msg("File accepted")
	middleware.WriteJSON(w, http.StatusAccepted, toFileResponse(*f))
}

// Get handles GET /files/{id}.
func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	f, err := h.store.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrFileNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "File not found")
			return
		}
		h.log.Error().Err(err).Str("file_id", id).Msg("Failed to load file")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load file")
		return
	}

	resp := toFileResponse(*f)
	if f.Status == domain.StatusProcessed {
		if n, err := h.store.TransactionCount(ctx, id); err == nil {
			resp.Transactions = &n
		}
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// List handles GET /files.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	files, err := h.store.ListFiles(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list files")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list files")
		return
	}

	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"files": out,
		"count": len(out),
	})
}

// Balances handles GET /files/{id}/balances: per-store signed balances
// derived from the file's committed transactions.
func (h *FilesHandler) Balances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	f, err := h.store.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrFileNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "File not found")
			return
		}
		h.log.Error().Err(err).Str("file_id", id).Msg("Failed to load file")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load file")
		return
	}
	if f.Status != domain.StatusProcessed {
		middleware.WriteError(w, http.StatusConflict,
			fmt.Sprintf("File is %s; balances exist only for Processed files", f.Status))
		return
	}

	cacheKey := "balances:" + id
	if cached, ok := h.cache.Get(cacheKey); ok {
		middleware.WriteJSON(w, http.StatusOK, cached)
		return
	}

	balances, err := h.store.FileStoreBalances(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Str("file_id", id).Msg("Failed to derive balances")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to derive balances")
		return
	}

	payload := map[string]interface{}{
		"file_id":  id,
		"balances": balances,
	}
	h.cache.SetDefault(cacheKey, payload)
	middleware.WriteJSON(w, http.StatusOK, payload)
}

// Attempts handles GET /files/{id}/attempts: the processing audit trail.
func (h *FilesHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	attempts, err := h.store.ListAttempts(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("file_id", id).Msg("Failed to list attempts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list attempts")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"file_id":  id,
		"attempts": attempts,
		"count":    len(attempts),
	})
}

// DeadLetters handles GET /dead-letters: items that exhausted their retry
// budget, for manual inspection.
func (h *FilesHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	items := h.deadLetters.List()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"dead_letters": items,
		"count":        len(items),
	})
}
