package api

import (
	"net/http"

	"github.com/rs/cors"
)

// WithCORS allows browser clients from origins to call the API.
func WithCORS(next http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(next)
}
