package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linnemanlabs/aegis/internal/alert"
)

func (a *API) handleTriageAlert(w http.ResponseWriter, r *http.Request) {
	var al alert.Alert
	if err := json.NewDecoder(r.Body).Decode(&al); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	// blocks until the orchestration (or the one we joined) completes
	v, err := a.svc.Triage(r.Context(), &al)
	if err != nil {
		if errors.Is(err, alert.ErrInvalidAlert) {
			a.logger.Info(r.Context(), "rejected invalid alert", "alert_id", al.ID, "error", err.Error())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if errors.Is(err, r.Context().Err()) {
			// client went away before the verdict; nothing left to say
			return
		}
		a.logger.Error(r.Context(), err, "triage failed", "alert_id", al.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
