package server

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRegisterRoutes(t *testing.T) {
	r := chi.NewRouter()
	registerRoutes(r)

	want := []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodPost, "/extract"},
		{http.MethodGet, "/status/{id}"},
		{http.MethodPost, "/extract/{id}/retry"},
		{http.MethodPost, "/extract/{id}/cancel"},
		{http.MethodGet, "/sessions/{id}/fields"},
		{http.MethodPost, "/sessions/{id}/fields"},
		{http.MethodPatch, "/sessions/{id}/fields/{fieldId}"},
		{http.MethodDelete, "/sessions/{id}/fields/{fieldId}"},
		{http.MethodDelete, "/sessions/{id}"},
		{http.MethodPost, "/reextract"},
		{http.MethodPost, "/templates"},
		{http.MethodPost, "/templates/match"},
		{http.MethodGet, "/templates/{name}"},
		{http.MethodDelete, "/templates/{name}"},
		{http.MethodPost, "/align"},
	}

	for _, w := range want {
		rctx := chi.NewRouteContext()
		if !r.Match(rctx, w.method, w.path) {
			t.Errorf("route %s %s is not registered", w.method, w.path)
		}
	}
}
