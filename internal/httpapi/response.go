package httpapi

import (
	"net/http"

	"github.com/go-chi/render"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	respondJSON(w, r, status, errorResponse{Error: errorDetail{Code: code, Message: msg}})
}
