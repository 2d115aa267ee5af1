package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Page describes the slice of a listing returned in Data.
type Page struct {
	Limit  int  `json:"limit"`
	Offset int  `json:"offset"`
	Total  *int `json:"total,omitempty"`
}

// Envelope wraps every JSON response. Exactly one of Data and Error is set.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Page      *Page  `json:"page,omitempty"`
	Error     *Error `json:"error,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("write json failed", "status", status, "requestId", payload.RequestID, "err", err)
	}
}

func ok(w http.ResponseWriter, status int, data any, requestID string) {
	WriteJSON(w, status, Envelope{Success: true, Data: data, RequestID: requestID})
}

func Success(w http.ResponseWriter, data any, requestID string) {
	ok(w, http.StatusOK, data, requestID)
}

func Created(w http.ResponseWriter, data any, requestID string) {
	ok(w, http.StatusCreated, data, requestID)
}

func Accepted(w http.ResponseWriter, data any, requestID string) {
	ok(w, http.StatusAccepted, data, requestID)
}

func Paged(w http.ResponseWriter, data any, page Page, requestID string) {
	WriteJSON(w, http.StatusOK, Envelope{Success: true, Data: data, Page: &page, RequestID: requestID})
}

func Fail(w http.ResponseWriter, status int, code, message, requestID string) {
	FailWithDetails(w, status, code, message, nil, requestID)
}

func FailWithDetails(w http.ResponseWriter, status int, code, message string, details any, requestID string) {
	WriteJSON(w, status, Envelope{Error: &Error{Code: code, Message: message, Details: details}, RequestID: requestID})
}
