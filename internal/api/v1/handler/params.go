package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"morphflux/internal/api/v1/response"
	"morphflux/internal/middleware"
	"morphflux/internal/service"
)

// pageParams reads ?page and ?limit, falling back to the defaults on
// missing or malformed values.
func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return service.NormalizePage(page, limit)
}

func clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

// pathID answers 404 with notFound itself when the {id} path parameter
// cannot name a record.
func pathID(w http.ResponseWriter, r *http.Request, notFound string) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		response.Fail(w, http.StatusNotFound, notFound)
		return "", false
	}
	return id, true
}

func imageID(w http.ResponseWriter, r *http.Request) (string, bool) {
	return pathID(w, r, "Image not found")
}

func transformationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	return pathID(w, r, "Transformation not found")
}
