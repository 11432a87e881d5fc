// Package main is the entry point of the application
package main

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func (app *application) upgrader() *websocket.Upgrader {
	origin := app.Config.FrontendOrigin

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,

		CheckOrigin: func(r *http.Request) bool {
			if origin == "" {
				return true
			}
			return origin == r.Header.Get("Origin")
		},
	}
}

// handleWebSocket handles WebSocket connections
func (app *application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	ws, err := app.upgrader().Upgrade(w, r, nil)
	if err != nil {
		app.Logger.Warn("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	conn := app.Hub.Serve(ws)

	app.Logger.Info("WebSocket connection established",
		zap.String("connection_id", conn.ID.String()),
		zap.String("remote_addr", r.RemoteAddr))
}
