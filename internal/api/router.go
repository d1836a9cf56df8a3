package api

import (
	"net/http"
)

func NewRouter(handler *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/token", handler.Token)
	mux.HandleFunc("/api/leads", handler.CreateLead)
	mux.HandleFunc("/healthz", handler.Health)

	return mux
}
