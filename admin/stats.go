package admin

import "net/http"

// handleProcessorStats returns queue depth and admission tracker usage
func (h *AdminHandlers) handleProcessorStats(w http.ResponseWriter, r *http.Request) {
	entries, bytes := h.processor.TrackerStats()

	response := map[string]interface{}{
		"queued":        h.processor.Size(),
		"tracked":       entries,
		"tracked_bytes": bytes,
	}

	writeJSONResponse(w, response, false, "")
}

// handleClear cancels queued notification work
func (h *AdminHandlers) handleClear(w http.ResponseWriter, r *http.Request) {
	before, _ := h.processor.TrackerStats()
	h.processor.Clear()

	writeJSONResponse(w, map[string]interface{}{"cleared": before}, false, "")
}

// handleHealth reports the store's commit high-water mark
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	last, err := h.store.LastCommitTS()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]interface{}{
		"healthy":        true,
		"last_commit_ts": last,
	}

	writeJSONResponse(w, response, false, "")
}

// handleObservers lists the observed columns
func (h *AdminHandlers) handleObservers(w http.ResponseWriter, r *http.Request) {
	cols := make([]string, len(h.observed))
	for i, c := range h.observed {
		cols[i] = c.String()
	}
	writeJSONResponse(w, cols, false, "")
}
