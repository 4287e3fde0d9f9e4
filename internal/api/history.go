package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/lattice-iot/gatewaylink/internal/dbstore"
)

// HistoryHandler serves recent persisted events. When the storage component
// is disabled the whole surface answers 501 — live endpoints keep working
// from the cache regardless.
type HistoryHandler struct {
	db *dbstore.DB // nil when storage is disabled
}

func NewHistoryHandler(db *dbstore.DB) *HistoryHandler {
	return &HistoryHandler{db: db}
}

// historyTables maps the URL kind segment to its destination table. Only
// names in this map ever reach SQL.
var historyTables = map[string]string{
	"heartbeats":  "iot_heartbeat",
	"temp-hum":    "iot_temp_hum",
	"noise":       "iot_noise_level",
	"rfid-events": "iot_rfid_event",
	"doors":       "iot_door_event",
	"changes":     "iot_topchange_event",
	"cmd-results": "iot_cmd_result",
}

func (h *HistoryHandler) Routes(r chi.Router) {
	r.Get("/history/{kind}", h.List)
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		WriteError(w, http.StatusNotImplemented, "storage is disabled")
		return
	}

	table, ok := historyTables[chi.URLParam(r, "kind")]
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown history kind")
		return
	}

	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := `SELECT * FROM ` + pgx.Identifier{table}.Sanitize() + ` ORDER BY parse_at DESC LIMIT $1 OFFSET $2`
	args := []any{p.Limit, p.Offset}
	if deviceID := r.URL.Query().Get("deviceId"); deviceID != "" {
		query = `SELECT * FROM ` + pgx.Identifier{table}.Sanitize() +
			` WHERE device_id = $3 ORDER BY parse_at DESC LIMIT $1 OFFSET $2`
		args = append(args, deviceID)
	}

	rows, err := h.db.Pool.Query(r.Context(), query, args...)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	fields := rows.FieldDescriptions()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "row scan failed")
			return
		}
		rec := make(map[string]any, len(fields))
		for i, f := range fields {
			rec[string(f.Name)] = vals[i]
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		WriteError(w, http.StatusInternalServerError, "query failed")
		return
	}

	WriteJSON(w, http.StatusOK, out)
}
