package handlers

import (
	"net/http"
)

type healthStatus struct {
	Status           string `json:"status"`
	ActiveRuns       int    `json:"activeRuns"`
	VisionConfigured bool   `json:"visionConfigured"`
	SpoolEnabled     bool   `json:"spoolEnabled"`
}

// Health answers 200 even without a vision key so that the job read
// endpoints stay routable.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	out := healthStatus{Status: "ok", SpoolEnabled: a.Spool != nil}
	if a.Orchestrator != nil {
		out.ActiveRuns = a.Orchestrator.ActiveRuns()
	}
	switch p := a.Processor.(type) {
	case nil:
	case interface{ Configured() bool }:
		out.VisionConfigured = p.Configured()
	default:
		out.VisionConfigured = true
	}
	a.json(w, http.StatusOK, out)
}
