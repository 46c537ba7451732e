// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/status"
)

// wsPingInterval is the server-side keepalive cadence.
const wsPingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsClientFrame is the only message shape clients send.
type wsClientFrame struct {
	Type string `json:"type"`
}

// HandleStatusWebsocket attaches a websocket to a previously created
// status session (session_id query parameter). The server pushes stage
// updates during the owning /chat turn, interleaved with pings every
// 30 seconds; a client ping gets a pong back.
func HandleStatusWebsocket(mgr *status.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		user := middleware.CurrentUser(c)
		if sessionID == "" || !mgr.SessionExists(sessionID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		// Sessions are scoped to their creating user by the id prefix.
		if !strings.HasPrefix(sessionID, strconv.Itoa(user.ID)+"-") {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		if err := mgr.RegisterConnection(sessionID, ws); err != nil {
			slog.Warn("Websocket registration failed", "session_id", sessionID, "error", err)
			return
		}
		defer mgr.RemoveConnection(sessionID, true)

		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if !mgr.SendPing(sessionID) {
						return
					}
				}
			}
		}()
		defer close(done)

		for {
			var frame wsClientFrame
			if err := ws.ReadJSON(&frame); err != nil {
				slog.Info("Websocket client disconnected", "session_id", sessionID)
				return
			}
			if frame.Type == "ping" {
				mgr.SendPong(sessionID)
			}
		}
	}
}
