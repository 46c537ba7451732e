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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/store"
)

// SystemMessageAPI is the persona slice of the store.
type SystemMessageAPI interface {
	CreateSystemMessage(ctx context.Context, ownerID int, name, content string) (*store.SystemMessage, error)
	GetSystemMessage(ctx context.Context, id int) (*store.SystemMessage, error)
	ListSystemMessages(ctx context.Context, userID int, showAll bool) ([]store.SystemMessage, error)
	UpdateSystemMessage(ctx context.Context, id int, name, content string) error
	DeleteSystemMessage(ctx context.Context, id int) error
	SetSearchToggles(ctx context.Context, id int, enableWeb, enableDeep bool) error
}

// canManage reports whether the user may modify the persona: the owner
// or an admin. Shared defaults (nil owner) are readable by everyone but
// managed by admins only.
func canManage(u *store.User, sm *store.SystemMessage) bool {
	if u.IsAdmin {
		return true
	}
	return sm.OwnerID != nil && *sm.OwnerID == u.ID
}

// CreateSystemMessage creates a persona owned by the caller.
func CreateSystemMessage(st SystemMessageAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SystemMessageRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := datatypes.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user := middleware.CurrentUser(c)
		sm, err := st.CreateSystemMessage(c.Request.Context(), user.ID, req.Name, req.Content)
		if err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sm)
	}
}

// ListSystemMessages lists the caller's personas plus shared defaults.
// Admins may pass show_all=true to list every persona.
func ListSystemMessages(st SystemMessageAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		showAll := c.Query("show_all") == "true" && user.IsAdmin
		messages, err := st.ListSystemMessages(c.Request.Context(), user.ID, showAll)
		if err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"system_messages": messages})
	}
}

// GetSystemMessage returns one persona.
func GetSystemMessage(st SystemMessageAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		sm, err := st.GetSystemMessage(c.Request.Context(), id)
		if err != nil {
			storeError(c, err)
			return
		}
		user := middleware.CurrentUser(c)
		if !sm.IsDefault() && !canManage(user, sm) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your system message"})
			return
		}
		c.JSON(http.StatusOK, sm)
	}
}

// UpdateSystemMessage edits a persona, owner-or-admin only.
func UpdateSystemMessage(st SystemMessageAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.SystemMessageRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		sm, err := st.GetSystemMessage(c.Request.Context(), id)
		if err != nil {
			storeError(c, err)
			return
		}
		if !canManage(middleware.CurrentUser(c), sm) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your system message"})
			return
		}
		if err := st.UpdateSystemMessage(c.Request.Context(), id, req.Name, req.Content); err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "name": req.Name})
	}
}

// DeleteSystemMessage removes a persona. Shared defaults are
// undeletable for everyone, admins included.
func DeleteSystemMessage(st SystemMessageAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		sm, err := st.GetSystemMessage(c.Request.Context(), id)
		if err != nil {
			storeError(c, err)
			return
		}
		if sm.IsDefault() {
			c.JSON(http.StatusForbidden, gin.H{"error": "default system messages cannot be deleted"})
			return
		}
		if !canManage(middleware.CurrentUser(c), sm) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your system message"})
			return
		}
		if err := st.DeleteSystemMessage(c.Request.Context(), id); err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// ToggleSearch flips the persona's web/deep search switches.
func ToggleSearch(st SystemMessageAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.ToggleSearchRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		sm, err := st.GetSystemMessage(c.Request.Context(), id)
		if err != nil {
			storeError(c, err)
			return
		}
		if !canManage(middleware.CurrentUser(c), sm) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your system message"})
			return
		}
		if err := st.SetSearchToggles(c.Request.Context(), id, req.EnableWebSearch, req.EnableDeepSearch); err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":                 id,
			"enable_web_search":  req.EnableWebSearch,
			"enable_deep_search": req.EnableDeepSearch,
		})
	}
}
