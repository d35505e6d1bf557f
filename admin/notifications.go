package admin

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/notify"
)

var errPageFull = errors.New("page full")

// handleNotifications pages through persisted notifications in key order
func (h *AdminHandlers) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	from, err := parseFrom(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	response := []map[string]interface{}{}
	hasMore := false
	var lastKey []byte

	err = h.store.ScanNotificationsAfter(from, func(n notify.Notification) error {
		if len(response) == limit {
			hasMore = true
			return errPageFull
		}

		response = append(response, notificationJSON(n))
		lastKey = n.RowColumn.Encode()
		return nil
	})
	if err != nil && !errors.Is(err, errPageFull) {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	cursor := ""
	if hasMore {
		cursor = base64.URLEncoding.EncodeToString(lastKey)
	}
	writeJSONResponse(w, response, hasMore, cursor)
}

func notificationJSON(n notify.Notification) map[string]interface{} {
	return map[string]interface{}{
		"row":        data.EscapeNonASCII(n.Row),
		"row_base64": encodeBase64(n.Row),
		"column":     n.Column.String(),
		"type":       n.Type.String(),
		"timestamp":  n.Timestamp,
		"time":       hlc.Unpack(n.Timestamp).String(),
	}
}
