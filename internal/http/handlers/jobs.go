package handlers

import (
	"context"
	"net/http"
)

type processNextResponse struct {
	Processed bool   `json:"processed"`
	JobID     string `json:"job_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProcessNext runs one consumer invocation. The response is always 200; a
// failed generation is reported in the body. A claimed job runs to its end
// even if the caller goes away; the consumer bounds it with its own timeout.
func (a *App) ProcessNext(w http.ResponseWriter, r *http.Request) {
	out := a.Jobs.ProcessNext(context.WithoutCancel(r.Context()))
	resp := processNextResponse{Processed: out.Processed, JobID: out.JobID}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	a.json(w, http.StatusOK, resp)
}

type reconcileResponse struct {
	Scanned        int    `json:"scanned"`
	CorrectedCount int    `json:"corrected_count"`
	Error          string `json:"error,omitempty"`
}

func (a *App) Reconcile(w http.ResponseWriter, r *http.Request) {
	report := a.Reconciler.Reconcile(r.Context())
	resp := reconcileResponse{Scanned: report.Scanned, CorrectedCount: report.CorrectedCount}
	if report.Err != nil {
		resp.Error = report.Err.Error()
	}
	a.json(w, http.StatusOK, resp)
}

// Events upgrades to the websocket change feed of the current user.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	a.Stream.ServeWS(w, r, userID)
}
