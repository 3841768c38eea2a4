package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// NewHandler returns the HTTP surface of the daemon: health, metrics,
// manual runs and the latest run report. Manual runs execute on base, a
// context that outlives the request.
func NewHandler(base context.Context, s *Scheduler, m *RunMetrics) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/runs", func(w http.ResponseWriter, req *http.Request) {
		date := LogicalDate(time.Now(), s.Location())
		if v := req.URL.Query().Get("date"); v != "" {
			d, err := ParseLogicalDate(v, s.Location())
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			date = d
		}

		go func() {
			if _, err := s.Trigger(base, date); err != nil {
				log.Ctx(base).Error().Err(err).Msg("manual run failed")
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"logical_date": date.Format(logicalDateLayout)})
	}).Methods(http.MethodPost)

	r.HandleFunc("/runs/latest", func(w http.ResponseWriter, _ *http.Request) {
		latest := s.Latest()
		if latest == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run yet"})
			return
		}
		writeJSON(w, http.StatusOK, latest)
	}).Methods(http.MethodGet)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
