// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the orchestrator's HTTP surface.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/store"
)

var chatTracer = otel.Tracer("chat.orchestrator.handlers")

// SessionHeader carries the status-session id in both directions.
const SessionHeader = "X-Session-ID"

// internalErrorBody is the opaque 500 payload.
const internalErrorBody = "An unexpected error occurred"

// ChatRunner drives one chat turn. Satisfied by *services.ChatPipeline.
type ChatRunner interface {
	Run(ctx context.Context, req *datatypes.ChatRequest, user *store.User, sessionID string) (*datatypes.ChatResponse, error)
}

// SessionCreator is the slice of the status manager the chat handler
// needs. Satisfied by *status.Manager.
type SessionCreator interface {
	CreateSession(userID int) string
	SessionExists(sessionID string) bool
}

// HandleChat drives one turn of the pipeline. When the client sends no
// X-Session-ID (or a stale one), a fresh session is created and echoed
// back in the response header so the client can attach its websocket.
func HandleChat(pipeline ChatRunner, sessions SessionCreator, metrics *observability.ChatMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the chat request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.SystemMessageID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "system_message_id is required"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user := middleware.CurrentUser(c)
		sessionID := c.GetHeader(SessionHeader)
		if sessionID == "" || !sessions.SessionExists(sessionID) {
			sessionID = sessions.CreateSession(user.ID)
		}
		c.Header(SessionHeader, sessionID)

		start := time.Now()
		resp, err := pipeline.Run(ctx, &req, user, sessionID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordTurn(req.Model, "error", time.Since(start).Seconds(), 0, 0)
			if store.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Chat turn failed", "error", err, "user_id", user.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorBody})
			return
		}

		metrics.RecordTurn(resp.Model, "success", time.Since(start).Seconds(),
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		c.JSON(http.StatusOK, resp)
	}
}
