// Package v0 provides the REST API handlers for album and photo access.
package v0

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hanvq/facegallery/internal/api/common"
	"github.com/hanvq/facegallery/internal/logger"
	"github.com/hanvq/facegallery/internal/queue"
	"github.com/hanvq/facegallery/internal/service"
	"github.com/hanvq/facegallery/internal/store"
	syncer "github.com/hanvq/facegallery/internal/sync"
)

// albumPasswordHeader carries the password for private album access
const albumPasswordHeader = "X-Album-Password"

// Routes defines the album API handlers with dependency injection
type Routes struct {
	albums *service.Albums

	// queue is non-nil only in queue dispatch mode
	queue *queue.Queue
}

// Router creates the album API router
func Router(albums *service.Albums, q *queue.Queue) http.Handler {
	routes := &Routes{albums: albums, queue: q}

	r := chi.NewRouter()
	r.Post("/albums", routes.createAlbum)
	r.Get("/albums", routes.listAlbums)
	r.Get("/albums/{id}", routes.getAlbum)
	r.Put("/albums/{id}", routes.updateAlbum)
	r.Delete("/albums/{id}", routes.deleteAlbum)
	r.Post("/albums/{id}/verify-password", routes.verifyPassword)
	r.Get("/albums/{id}/photos", routes.listPhotos)
	r.Post("/albums/{id}/sync", routes.syncAlbum)
	r.Get("/albums/{id}/encoding-status", routes.encodingStatus)
	r.Post("/albums/{id}/search", routes.searchFaces)
	r.Get("/queue/stats", routes.queueStats)
	return r
}

// createAlbumResponse is the create-album response body
type createAlbumResponse struct {
	Album *store.Album   `json:"album"`
	Sync  *syncer.Result `json:"sync,omitempty"`
}

func (h *Routes) createAlbum(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAlbumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.ShareLink == "" {
		common.WriteErrorResponse(w, "name and share_link are required", http.StatusBadRequest)
		return
	}

	album, syncResult, err := h.albums.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidShareLink) {
			common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Errorf("Failed to create album: %v", err)
		common.WriteErrorResponse(w, "Failed to create album", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, createAlbumResponse{Album: album, Sync: syncResult}, http.StatusCreated)
}

func (h *Routes) listAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := h.albums.List(r.Context())
	if err != nil {
		logger.Errorf("Failed to list albums: %v", err)
		common.WriteErrorResponse(w, "Failed to list albums", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, albums, http.StatusOK)
}

func (h *Routes) getAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := albumID(w, r)
	if !ok {
		return
	}
	album, err := h.albums.Get(r.Context(), id, r.Header.Get(albumPasswordHeader))
	if err != nil {
		writeAlbumError(w, id, err)
		return
	}
	common.WriteJSONResponse(w, album, http.StatusOK)
}

func (h *Routes) updateAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := albumID(w, r)
	if !ok {
		return
	}
	var req service.UpdateAlbumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		common.WriteErrorResponse(w, "name is required", http.StatusBadRequest)
		return
	}

	album, err := h.albums.Update(r.Context(), id, req)
	if err != nil {
		writeAlbumError(w, id, err)
		return
	}
	common.WriteJSONResponse(w, album, http.StatusOK)
}

func (h *Routes) deleteAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := albumID(w, r)
	if !ok {
		return
	}
	if err := h.albums.Delete(r.Context(), id); err != nil {
		writeAlbumError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// verifyPasswordRequest is the verify-password request body
type verifyPasswordRequest struct {
	Password string `json:"password"`
}

func (h *Routes) verifyPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := albumID(w, r)
	if !ok {
		return
	}
	var req verifyPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		common.WriteErrorResponse(w, "password is required", http.StatusBadRequest)
		return
	}

	if err := h.albums.VerifyPassword(r.Context(), id, req.Password); err != nil {
		writeAlbumError(w, id, err)
		return
	}
	common.WriteJSONResponse(w, map[string]bool{"success": true}, http.StatusOK)
}

func (h *Routes) listPhotos(w http.ResponseWriter, r *http.Request) {
	id, ok := albumID(w, r)
	if !ok {
		return
	}
	photos, err := h.albums.Photos(r.Context(), id, r.Header.Get(albumPasswordHeader))
	if err != nil {
		writeAlbumError(w, id, err)
		return
	}
	common.WriteJSONResponse(w, photos, http.StatusOK)
}

func (h *Routes) syncAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := albumID(w, r)
	if !ok {
		return
	}
	forceFull, _ := strconv.ParseBool(r.URL.Query().Get("force_full"))

	result, err := h.albums.Sync(r.Context(), id, forceFull)
	if err != nil {
		var listingErr *syncer.ListingError
		if errors.As(err, &listingErr) {
			logger.Errorf("Sync listing failed for album %d: %v", id, err)
			common.WriteErrorResponse(w, "Remote listing unavailable", http.StatusBadGateway)
			return
		}
		writeAlbumError(w, id, err)
		return
	}
	common.WriteJSONResponse(w, result, http.StatusOK)
}

func (h *Routes) encodingStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := albumID(w, r)
	if !ok {
		return
	}
	common.WriteJSONResponse(w, h.albums.EncodingStatus(r.Context(), id), http.StatusOK)
}

// searchRequest is the face search request body
type searchRequest struct {
	// Image is the base64-encoded probe image
	Image string `json:"image"`

	// Tolerance is the match distance threshold; zero uses the encoding
	// service default
	Tolerance float64 `json:"tolerance,omitempty"`
}

func (h *Routes) searchFaces(w http.ResponseWriter, r *http.Request) {
	id, ok := albumID(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Image == "" {
		common.WriteErrorResponse(w, "image is required", http.StatusBadRequest)
		return
	}

	photos, err := h.albums.Search(r.Context(), id, req.Image, req.Tolerance)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAlbumError(w, id, err)
			return
		}
		logger.Errorf("Face search failed for album %d: %v", id, err)
		common.WriteErrorResponse(w, "Face search unavailable", http.StatusBadGateway)
		return
	}
	common.WriteJSONResponse(w, photos, http.StatusOK)
}

func (h *Routes) queueStats(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		common.WriteErrorResponse(w, "Queue dispatch is not enabled", http.StatusNotFound)
		return
	}
	stats, err := h.queue.GetStats(r.Context())
	if err != nil {
		logger.Errorf("Failed to read queue stats: %v", err)
		common.WriteErrorResponse(w, "Failed to read queue stats", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, stats, http.StatusOK)
}

// albumID parses the {id} path parameter, writing a 400 on failure
func albumID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.WriteErrorResponse(w, "Invalid album id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeAlbumError(w http.ResponseWriter, id int64, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		common.WriteErrorResponse(w, "Album not found", http.StatusNotFound)
	case errors.Is(err, service.ErrPasswordRequired):
		common.WriteErrorResponse(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, service.ErrInvalidPassword):
		common.WriteErrorResponse(w, err.Error(), http.StatusForbidden)
	default:
		logger.Errorf("Album %d request failed: %v", id, err)
		common.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}
