// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the durable persistence layer: users, system
// messages, conversations, folders, and uploaded-file rows over
// PostgreSQL.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianChat/services/ingest"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

// DefaultSystemMessageName is the seeded, undeletable default. Its
// owner is NULL so every user can see it.
const DefaultSystemMessageName = "Default System Message"

// User is an authenticated account.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
	IsAdmin  bool   `json:"is_admin"`
}

// SystemMessage is a reusable persona: prompt content plus per-persona
// feature toggles. OwnerID nil marks a shared default.
type SystemMessage struct {
	ID               int       `json:"id"`
	OwnerID          *int      `json:"owner_id,omitempty"`
	Name             string    `json:"name"`
	Content          string    `json:"content"`
	EnableWebSearch  bool      `json:"enable_web_search"`
	EnableDeepSearch bool      `json:"enable_deep_search"`
	EnableTimeSense  bool      `json:"enable_time_sense"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsDefault reports whether this is a shared, undeletable persona.
func (s *SystemMessage) IsDefault() bool {
	return s.OwnerID == nil
}

// Conversation is an append-only message history plus per-turn side
// data. History and side data are stored as JSONB.
type Conversation struct {
	ID                  int           `json:"id"`
	UserID              int           `json:"user_id"`
	SystemMessageID     int           `json:"system_message_id"`
	FolderID            *int          `json:"folder_id,omitempty"`
	Title               string        `json:"title"`
	History             []llm.Message `json:"history"`
	VectorSearchResults string        `json:"vector_search_results"`
	SearchQueries       []string      `json:"search_queries"`
	WebSearchResults    string        `json:"web_search_results"`
	TotalTokens         int           `json:"total_tokens"`
	Model               string        `json:"model"`
	Temperature         float32       `json:"temperature"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Folder groups conversations for one user.
type Folder struct {
	ID     int    `json:"id"`
	UserID int    `json:"user_id"`
	Name   string `json:"name"`
}

// TurnUpdate carries everything one chat turn persists atomically.
type TurnUpdate struct {
	History             []llm.Message
	VectorSearchResults string
	SearchQueries       []string
	WebSearchResults    string
	TotalTokens         int
	Model               string
	Temperature         float32
	Title               string // applied only when non-empty
}

// NotFoundError marks a missing row; the handler layer maps it to 404.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// IsNotFound checks whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// Store is the persistence contract the orchestrator depends on.
type Store interface {
	ingest.FileStore

	// Users
	GetUser(ctx context.Context, id int) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, username string, isAdmin bool) (*User, error)

	// System messages
	EnsureDefaultSystemMessage(ctx context.Context, content string) (*SystemMessage, error)
	CreateSystemMessage(ctx context.Context, ownerID int, name, content string) (*SystemMessage, error)
	GetSystemMessage(ctx context.Context, id int) (*SystemMessage, error)
	ListSystemMessages(ctx context.Context, userID int, showAll bool) ([]SystemMessage, error)
	UpdateSystemMessage(ctx context.Context, id int, name, content string) error
	DeleteSystemMessage(ctx context.Context, id int) error
	SetSearchToggles(ctx context.Context, id int, enableWeb, enableDeep bool) error

	// Conversations
	CreateConversation(ctx context.Context, userID, systemMessageID int, title string) (*Conversation, error)
	GetConversation(ctx context.Context, userID, id int) (*Conversation, error)
	ListConversations(ctx context.Context, userID, page, perPage int) ([]Conversation, int, error)
	SaveTurn(ctx context.Context, userID, id int, update TurnUpdate) error
	UpdateConversationTitle(ctx context.Context, userID, id int, title string) error
	DeleteConversation(ctx context.Context, userID, id int) error
	AssignConversationFolder(ctx context.Context, userID, conversationID int, folderID *int) error

	// Folders
	CreateFolder(ctx context.Context, userID int, name string) (*Folder, error)
	ListFolders(ctx context.Context, userID int) ([]Folder, error)
	RenameFolder(ctx context.Context, userID, id int, name string) error
	DeleteFolder(ctx context.Context, userID, id int) error
}
