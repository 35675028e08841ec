package handlers

import (
	"database/sql"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"inkwell/internal/middleware"
	"inkwell/internal/models"
	"inkwell/internal/storage"
)

// maxImageBytes caps uploaded images at 5 MiB, checked before any storage or
// database interaction.
const maxImageBytes = 5 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

const journalColumns = `id, user_id, title, content, image_url, created_at, updated_at`

type JournalHandler struct {
	db     *sqlx.DB
	blobs  storage.BlobStore
	logger *zap.Logger
}

func NewJournalHandler(db *sqlx.DB, blobs storage.BlobStore, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{db: db, blobs: blobs, logger: logger}
}

func (h *JournalHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	fh, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	title := r.FormValue("title")
	content := r.FormValue("content")
	if title == "" || content == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}

	var imageURL *string
	if fh != nil {
		url, err := h.uploadImage(r, userID, fh)
		if err != nil {
			h.logger.Error("image upload failed", zap.Int64("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store image")
			return
		}
		imageURL = &url
	}

	var journal models.Journal
	err := h.db.QueryRowxContext(r.Context(),
		`INSERT INTO journals (user_id, title, content, image_url) VALUES ($1, $2, $3, $4) RETURNING `+journalColumns,
		userID, title, content, imageURL).StructScan(&journal)
	if err != nil {
		h.logger.Error("could not create journal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create journal")
		return
	}
	writeJSON(w, http.StatusCreated, journal)
}

func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	journals := []models.Journal{}
	err := h.db.SelectContext(r.Context(), &journals,
		`SELECT `+journalColumns+` FROM journals WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		h.logger.Error("could not list journals", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not fetch journals")
		return
	}
	writeJSON(w, http.StatusOK, journals)
}

// Update applies the image replacement policy:
//   - new file uploaded: delete the stored blob, upload the new one
//   - currentImageUrl == "": delete the stored blob, clear image_url
//   - currentImageUrl set: keep that value as-is
//   - currentImageUrl absent: keep the stored value
//
// Blob deletions are best-effort and never fail the request.
func (h *JournalHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	journalID, ok := journalParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "journal not found")
		return
	}

	fh, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	title := r.FormValue("title")
	content := r.FormValue("content")
	if title == "" || content == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}

	var current models.Journal
	err := h.db.GetContext(r.Context(), &current,
		`SELECT `+journalColumns+` FROM journals WHERE id = $1 AND user_id = $2`, journalID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "journal not found")
			return
		}
		h.logger.Error("journal lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	var imageURL *string
	if fh != nil {
		if current.ImageURL != nil {
			h.deleteBlob(r, *current.ImageURL)
		}
		url, err := h.uploadImage(r, userID, fh)
		if err != nil {
			h.logger.Error("image upload failed", zap.Int64("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store image")
			return
		}
		imageURL = &url
	} else if vals, present := r.MultipartForm.Value["currentImageUrl"]; present {
		if vals[0] == "" {
			if current.ImageURL != nil {
				h.deleteBlob(r, *current.ImageURL)
			}
			imageURL = nil
		} else {
			imageURL = &vals[0]
		}
	} else {
		imageURL = current.ImageURL
	}

	var journal models.Journal
	err = h.db.QueryRowxContext(r.Context(),
		`UPDATE journals SET title = $1, content = $2, image_url = $3, updated_at = NOW() WHERE id = $4 AND user_id = $5 RETURNING `+journalColumns,
		title, content, imageURL, journalID, userID).StructScan(&journal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "journal not found")
			return
		}
		h.logger.Error("could not update journal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not update journal")
		return
	}
	writeJSON(w, http.StatusOK, journal)
}

func (h *JournalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	journalID, ok := journalParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "journal not found")
		return
	}

	var imageURL *string
	err := h.db.GetContext(r.Context(), &imageURL,
		`SELECT image_url FROM journals WHERE id = $1 AND user_id = $2`, journalID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "journal not found")
			return
		}
		h.logger.Error("journal lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	if imageURL != nil {
		h.deleteBlob(r, *imageURL)
	}

	res, err := h.db.ExecContext(r.Context(),
		`DELETE FROM journals WHERE id = $1 AND user_id = $2`, journalID, userID)
	if err != nil {
		h.logger.Error("could not delete journal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete journal")
		return
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		writeError(w, http.StatusNotFound, "journal not found")
		return
	}
	writeMessage(w, "journal deleted successfully")
}

// parseForm reads the multipart body and validates the optional image part.
// It writes the error response itself and returns ok=false on rejection.
func (h *JournalHandler) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+1<<20)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}

	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		return nil, true
	}
	fh := files[0]
	if fh.Size > maxImageBytes {
		writeError(w, http.StatusBadRequest, "image must be 5MB or smaller")
		return nil, false
	}
	if !allowedImageTypes[fh.Header.Get("Content-Type")] {
		writeError(w, http.StatusBadRequest, "only JPEG, PNG, GIF and WebP images are allowed")
		return nil, false
	}
	return fh, true
}

func (h *JournalHandler) uploadImage(r *http.Request, userID int64, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.blobs.Upload(r.Context(), storage.ObjectPath(userID, fh.Filename), f, fh.Header.Get("Content-Type"))
}

func (h *JournalHandler) deleteBlob(r *http.Request, url string) {
	path := storage.PathFromURL(url)
	if path == "" {
		h.logger.Warn("unrecognized image url, skipping blob delete", zap.String("url", url))
		return
	}
	if err := h.blobs.Delete(r.Context(), path); err != nil {
		h.logger.Warn("failed to delete stale image", zap.String("path", path), zap.Error(err))
	}
}

func journalParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
