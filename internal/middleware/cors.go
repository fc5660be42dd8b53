package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS answers preflight requests for the configured origins. "*" allows any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:       []string{"Authorization", "Content-Type"},
		MaxAge:               600,
		OptionsSuccessStatus: http.StatusNoContent,
	})
}
