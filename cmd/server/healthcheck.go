// Package main is the entry point of the application
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tecu23/room-server/pkg/coordinator"
	"github.com/tecu23/room-server/pkg/messages"
)

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	coordinator.Stats
}

// handleHealth handles the GET /health endpoint
func (app *application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	app.writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(app.StartTime).Round(time.Second).String(),
		Stats:  app.Coordinator.Stats(),
	})
}

// handleSession handles GET /sessions/{key} with the session's current position
func (app *application) handleSession(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	snapshot, err := app.Coordinator.Snapshot(key)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, coordinator.ErrUnknownSession) {
			status = http.StatusNotFound
		}

		app.writeJSON(w, status, messages.ErrorPayload{
			Reason:  string(coordinator.ReasonOf(err)),
			Message: err.Error(),
		})
		return
	}

	app.writeJSON(w, http.StatusOK, snapshot)
}

func (app *application) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Error("writing response", zap.Error(err))
	}
}
