package admin

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/notify"
	"github.com/rs/zerolog/log"
)

// ProcessorControl is the processor surface the admin API reads and drives
type ProcessorControl interface {
	Size() int
	TrackerStats() (int, int64)
	Clear()
}

// NotificationStore lists persisted notifications
type NotificationStore interface {
	ScanNotificationsAfter(after []byte, fn func(n notify.Notification) error) error
	LastCommitTS() (uint64, error)
}

// AdminHandlers handles admin API endpoints
type AdminHandlers struct {
	processor ProcessorControl
	store     NotificationStore
	observed  []data.Column
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(processor ProcessorControl, store NotificationStore, observed []data.Column) *AdminHandlers {
	return &AdminHandlers{
		processor: processor,
		store:     store,
		observed:  observed,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}

// parseFrom decodes the pagination cursor, the base64 key of the last
// notification already returned
func parseFrom(r *http.Request) ([]byte, error) {
	from := r.URL.Query().Get("from")
	if from == "" {
		return nil, nil
	}
	key, err := base64.URLEncoding.DecodeString(from)
	if err != nil {
		return nil, fmt.Errorf("invalid from parameter: %w", err)
	}
	return key, nil
}

// encodeBase64 encodes byte slices as base64 strings
func encodeBase64(data []byte) string {
	if data == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}
