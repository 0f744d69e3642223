package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"listing-pipeline-service/internal/contracts"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// WriteJSONError отправляет JSON-ответ с полем "error" и заданным статусом
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithJSON(w, statusCode, map[string]string{"error": message})
}

// RespondWithJSON отправляет JSON-ответ
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to marshal JSON response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(response)
}

// officeIDParam читает {officeID} из пути
func officeIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "officeID")
	officeID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid office id %q", raw)
	}
	return officeID, nil
}

// decodeBody проверяет тело по контракту и раскладывает его в dst.
// Пустое тело равносильно пустому объекту.
func decodeBody(w http.ResponseWriter, r *http.Request, contract string, dst interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		body = []byte("{}")
	}
	if err := contracts.Validate(contract, contracts.CurrentVersion, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
