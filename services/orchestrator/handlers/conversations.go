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
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/store"
)

// ConversationAPI is the conversation/folder slice of the store.
type ConversationAPI interface {
	GetConversation(ctx context.Context, userID, id int) (*store.Conversation, error)
	ListConversations(ctx context.Context, userID, page, perPage int) ([]store.Conversation, int, error)
	UpdateConversationTitle(ctx context.Context, userID, id int, title string) error
	DeleteConversation(ctx context.Context, userID, id int) error
	AssignConversationFolder(ctx context.Context, userID, conversationID int, folderID *int) error
	CreateFolder(ctx context.Context, userID int, name string) (*store.Folder, error)
	ListFolders(ctx context.Context, userID int) ([]store.Folder, error)
	RenameFolder(ctx context.Context, userID, id int, name string) error
	DeleteFolder(ctx context.Context, userID, id int) error
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// storeError maps store failures to HTTP codes.
func storeError(c *gin.Context, err error) {
	if store.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorBody})
}

// ListConversations returns a paginated conversation list.
func ListConversations(st ConversationAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

		conversations, total, err := st.ListConversations(c.Request.Context(), user.ID, page, perPage)
		if err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"conversations": conversations,
			"total":         total,
			"page":          page,
			"per_page":      perPage,
		})
	}
}

// GetConversation returns one conversation with its side data.
func GetConversation(st ConversationAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		user := middleware.CurrentUser(c)
		conv, err := st.GetConversation(c.Request.Context(), user.ID, id)
		if err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}

// UpdateConversationTitle renames a conversation.
func UpdateConversationTitle(st ConversationAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.TitleUpdateRequest
		if err := c.BindJSON(&req); err != nil || req.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
			return
		}
		user := middleware.CurrentUser(c)
		if err := st.UpdateConversationTitle(c.Request.Context(), user.ID, id, req.Title); err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "title": req.Title})
	}
}

// DeleteConversation removes a conversation.
func DeleteConversation(st ConversationAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		user := middleware.CurrentUser(c)
		if err := st.DeleteConversation(c.Request.Context(), user.ID, id); err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// AssignConversationFolder moves a conversation into a folder; a null
// folder_id unfiles it.
func AssignConversationFolder(st ConversationAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req struct {
			FolderID *int `json:"folder_id"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		user := middleware.CurrentUser(c)
		if err := st.AssignConversationFolder(c.Request.Context(), user.ID, id, req.FolderID); err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "folder_id": req.FolderID})
	}
}

// ListFolders returns the user's folders.
func ListFolders(st ConversationAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		folders, err := st.ListFolders(c.Request.Context(), user.ID)
		if err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"folders": folders})
	}
}

// CreateFolder creates a folder for the caller.
func CreateFolder(st ConversationAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FolderRequest
		if err := c.BindJSON(&req); err != nil || req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		user := middleware.CurrentUser(c)
		folder, err := st.CreateFolder(c.Request.Context(), user.ID, req.Name)
		if err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, folder)
	}
}

// RenameFolder renames a folder.
func RenameFolder(st ConversationAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.FolderRequest
		if err := c.BindJSON(&req); err != nil || req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		user := middleware.CurrentUser(c)
		if err := st.RenameFolder(c.Request.Context(), user.ID, id, req.Name); err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "name": req.Name})
	}
}

// DeleteFolder removes a folder; its conversations become unfiled.
func DeleteFolder(st ConversationAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		user := middleware.CurrentUser(c)
		if err := st.DeleteFolder(c.Request.Context(), user.ID, id); err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
