// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes maps the HTTP surface onto handlers.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/status"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/store"
)

// Deps carries everything the route table needs.
type Deps struct {
	Store       store.Store
	Pipeline    handlers.ChatRunner
	Status      *status.Manager
	Files       handlers.FileAPI
	Attachments handlers.AttachmentAPI
	Counter     *llm.Counter
	Signer      *middleware.Signer
	Metrics     *observability.ChatMetrics
}

// SetupRoutes registers the full route table on the router.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(otelgin.Middleware("chat-orchestrator"))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.AuthMiddleware(d.Signer, d.Store)

	router.GET("/ws/chat/status", auth, handlers.HandleStatusWebsocket(d.Status))

	v1 := router.Group("/api/v1")
	v1.Use(auth)
	{
		v1.POST("/chat", handlers.HandleChat(d.Pipeline, d.Status, d.Metrics))
		v1.POST("/scraper", handlers.HandleScraper)

		conversations := v1.Group("/conversations")
		{
			conversations.GET("", handlers.ListConversations(d.Store))
			conversations.GET("/folders", handlers.ListFolders(d.Store))
			conversations.POST("/folders", handlers.CreateFolder(d.Store))
			conversations.PUT("/folders/:id", handlers.RenameFolder(d.Store))
			conversations.DELETE("/folders/:id", handlers.DeleteFolder(d.Store))
			conversations.GET("/:id", handlers.GetConversation(d.Store))
			conversations.POST("/:id/update_title", handlers.UpdateConversationTitle(d.Store))
			conversations.POST("/:id/assign_folder", handlers.AssignConversationFolder(d.Store))
			conversations.DELETE("/:id", handlers.DeleteConversation(d.Store))
		}

		systemMessages := v1.Group("/system_messages")
		{
			systemMessages.POST("", handlers.CreateSystemMessage(d.Store))
			systemMessages.GET("", handlers.ListSystemMessages(d.Store))
			systemMessages.GET("/:id", handlers.GetSystemMessage(d.Store))
			systemMessages.PUT("/:id", handlers.UpdateSystemMessage(d.Store))
			systemMessages.DELETE("/:id", handlers.DeleteSystemMessage(d.Store))
			systemMessages.POST("/:id/toggle-search", handlers.ToggleSearch(d.Store))
		}

		vectorFiles := v1.Group("/vector-files")
		if d.Files != nil {
			vectorFiles.POST("/upload", handlers.UploadVectorFile(d.Files))
			vectorFiles.GET("/list/:system_message_id", handlers.ListVectorFiles(d.Files))
			vectorFiles.GET("/:id/original", handlers.ViewOriginalFile(d.Files))
			vectorFiles.GET("/:id/serve", handlers.ServeOriginalFile(d.Files))
			vectorFiles.GET("/:id/processed", handlers.ServeProcessedText(d.Files))
			vectorFiles.DELETE("/:id", handlers.DeleteVectorFile(d.Files))
		} else {
			vectorFiles.Any("/*path", handlers.FeatureDisabled("semantic retrieval is not configured"))
		}

		sessionAttachments := v1.Group("/session-attachments")
		{
			sessionAttachments.POST("/upload", handlers.UploadSessionAttachment(d.Attachments, d.Counter))
			sessionAttachments.DELETE("/:id/remove", handlers.RemoveSessionAttachment(d.Attachments))
		}
	}
}
