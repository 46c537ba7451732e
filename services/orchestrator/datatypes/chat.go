// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response structures for the
// chat orchestrator HTTP surface.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianChat/services/llm"
)

const (
	// MaxMessageContentBytes caps a single message's content to keep
	// unbounded input from exhausting memory.
	MaxMessageContentBytes = 256 * 1024

	// MaxMessagesPerRequest caps the history length a client may send.
	MaxMessagesPerRequest = 200

	// MaxBudgetTokens is the maximum extended-thinking token budget.
	MaxBudgetTokens = 65536
)

// chatValidate is the shared validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ChatRequest drives one turn of the pipeline.
type ChatRequest struct {
	Messages        []llm.Message `json:"messages" validate:"required,min=1,max=200,dive"`
	Model           string        `json:"model" validate:"required"`
	Temperature     float32       `json:"temperature" validate:"gte=0,lte=2"`
	SystemMessageID int           `json:"system_message_id" validate:"required,gt=0"`
	ConversationID  *int          `json:"conversation_id,omitempty"`

	EnableWebSearch  bool `json:"enable_web_search"`
	EnableDeepSearch bool `json:"enable_deep_search"`

	// Timezone is the client's IANA zone for the time-context block.
	Timezone string `json:"timezone,omitempty"`

	// FileIDs are session-attachment ids whose extracted text is
	// injected into this turn's user message.
	FileIDs []string `json:"file_ids,omitempty"`

	ReasoningEffort  string `json:"reasoning_effort,omitempty" validate:"omitempty,oneof=low medium high"`
	ExtendedThinking bool   `json:"extended_thinking,omitempty"`
	ThinkingBudget   int    `json:"thinking_budget,omitempty" validate:"gte=0,lte=65536"`
}

// Validate runs struct validation plus the per-message content cap.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	for i := range r.Messages {
		if len(r.Messages[i].Content) > MaxMessageContentBytes {
			return fmt.Errorf("message %d exceeds %d bytes", i, MaxMessageContentBytes)
		}
	}
	return nil
}

// TokenUsage reports the turn's token accounting.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the full turn result. Response duplicates ChatOutput
// for older clients.
type ChatResponse struct {
	ChatOutput          string     `json:"chat_output"`
	Response            string     `json:"response"`
	ConversationID      int        `json:"conversation_id"`
	Title               string     `json:"title"`
	VectorSearchResults string     `json:"vector_search_results"`
	SearchQueries       []string   `json:"search_queries"`
	WebSearchResults    string     `json:"web_search_results"`
	SystemMessage       string     `json:"system_message"`
	Thinking            string     `json:"thinking,omitempty"`
	Usage               TokenUsage `json:"usage"`
	Model               string     `json:"model"`
	EnableWebSearch     bool       `json:"enable_web_search"`
	EnableDeepSearch    bool       `json:"enable_deep_search"`
}

// TitleUpdateRequest renames a conversation.
type TitleUpdateRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// ToggleSearchRequest flips a system message's search modes.
type ToggleSearchRequest struct {
	EnableWebSearch  bool `json:"enableWebSearch"`
	EnableDeepSearch bool `json:"enableDeepSearch"`
}

// SystemMessageRequest creates or updates a persona.
type SystemMessageRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// FolderRequest creates or renames a folder.
type FolderRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// ValidateStruct validates any datatypes struct with the shared
// validator.
func ValidateStruct(v any) error {
	return chatValidate.Struct(v)
}
