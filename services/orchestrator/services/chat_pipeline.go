// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services implements the chat pipeline: the strictly ordered
// sequence that turns one request into one persisted conversation turn.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianChat/pkg/paths"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/store"
	"github.com/AleutianAI/AleutianChat/services/search"
)

var tracer = otel.Tracer("chat.pipeline")

// =============================================================================
// Defaults and sentinels
// =============================================================================

const (
	// NoVectorResults is returned when retrieval found nothing usable.
	NoVectorResults = "No results found"

	// NoWebSearch is returned when web search was disabled or failed.
	NoWebSearch = "No web search performed"

	attachmentOpen  = "--- Attached Files Context ---"
	attachmentClose = "--- End Attached Files Context ---"

	vectorContextOpen  = "<Added Context Provided by Vector Search>"
	vectorContextClose = "</Added Context Provided by Vector Search>"

	webContextOpen  = "<Added Context Provided by Web Search>"
	webContextClose = "</Added Context Provided by Web Search>"

	// webCitationInstruction is appended after web context so the model
	// cites its sources.
	webCitationInstruction = "When using the web search context above, cite sources " +
		"inline with numbered footnotes like [1], [2] and end your answer with a " +
		"\"Sources:\" section listing the full URL for each footnote."

	// embeddingQueryTokenLimit mirrors the embedding model's input cap.
	embeddingQueryTokenLimit = 8190

	// rewriteTokenTarget bounds the LLM rewrite of an oversized query.
	rewriteTokenTarget = 500

	// rewriteCharLimit is the hard character truncation after a rewrite
	// that is still too long (~4 chars per token).
	rewriteCharLimit = rewriteTokenTarget * 4
)

// =============================================================================
// Collaborator seams
// =============================================================================

// ConversationStore is the slice of the persistence layer the pipeline
// touches.
type ConversationStore interface {
	GetSystemMessage(ctx context.Context, id int) (*store.SystemMessage, error)
	GetConversation(ctx context.Context, userID, id int) (*store.Conversation, error)
	CreateConversation(ctx context.Context, userID, systemMessageID int, title string) (*store.Conversation, error)
	SaveTurn(ctx context.Context, userID, id int, update store.TurnUpdate) error
}

// Retriever answers semantic queries over a system message's namespace.
// Satisfied by *ingest.Processor.
type Retriever interface {
	QueryIndex(ctx context.Context, systemMessageID int, query string) (string, error)
}

// AttachmentSource yields extracted text for session attachments.
// Satisfied by *attachments.Handler.
type AttachmentSource interface {
	GetContent(ctx context.Context, userID int, attachmentID string) (text, filename, mimeType string, err error)
}

// WebSearcher runs the standard or deep web-search pipeline. Satisfied
// by *search.Service.
type WebSearcher interface {
	Enabled() bool
	Standard(ctx context.Context, model string, history []llm.Message, query, resultsDir string) (*search.Outcome, error)
	Deep(ctx context.Context, model string, history []llm.Message, query, resultsDir string) (*search.Outcome, error)
}

// StatusNotifier pushes per-stage progress to the client's websocket.
// Satisfied by *status.Manager.
type StatusNotifier interface {
	SendStatusUpdate(sessionID, message, statusTag string) bool
	RemoveConnection(sessionID string, fromHandler bool)
}

// =============================================================================
// Pipeline
// =============================================================================

// ChatPipeline wires the collaborators for one deployment. retriever,
// web, and attachments may be nil when the matching feature is not
// configured.
type ChatPipeline struct {
	store       ConversationStore
	gen         search.Generator
	counter     *llm.Counter
	retriever   Retriever
	web         WebSearcher
	attachments AttachmentSource
	status      StatusNotifier
	layout      *paths.Layout
	metrics     *observability.ChatMetrics
	now         func() time.Time
}

// NewChatPipeline builds a pipeline. metrics and now may be nil.
func NewChatPipeline(
	st ConversationStore,
	gen search.Generator,
	counter *llm.Counter,
	retriever Retriever,
	web WebSearcher,
	atts AttachmentSource,
	statusMgr StatusNotifier,
	layout *paths.Layout,
	metrics *observability.ChatMetrics,
	now func() time.Time,
) *ChatPipeline {
	if now == nil {
		now = time.Now
	}
	return &ChatPipeline{
		store:       st,
		gen:         gen,
		counter:     counter,
		retriever:   retriever,
		web:         web,
		attachments: atts,
		status:      statusMgr,
		layout:      layout,
		metrics:     metrics,
		now:         now,
	}
}

// Run drives one turn. The caller resolves sessionID (creating a status
// session when the client sent none) before invoking Run; the session
// is deregistered on exit regardless of outcome.
func (p *ChatPipeline) Run(ctx context.Context, req *datatypes.ChatRequest, user *store.User, sessionID string) (*datatypes.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "ChatPipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.model", req.Model),
		attribute.Int("chat.user_id", user.ID),
	)
	defer p.status.RemoveConnection(sessionID, false)

	// Load conversation.
	p.progress(sessionID, "Loading conversation", "conversation")
	conv, isNew, err := p.loadConversation(ctx, req, user.ID)
	if err != nil {
		p.failStage(sessionID, "conversation", err)
		return nil, err
	}

	// Load system message.
	sm, err := p.store.GetSystemMessage(ctx, req.SystemMessageID)
	if err != nil {
		p.failStage(sessionID, "system_message", err)
		return nil, err
	}
	systemContent := sm.Content

	// Attachment injection. searchText feeds retrieval and web search;
	// the LLM sees the version with fresh attachment content appended.
	messages := append([]llm.Message(nil), req.Messages...)
	searchText := ""
	if n := len(messages); n > 0 {
		last := &messages[n-1]
		searchText = StripAttachmentBlock(last.Content)
		if len(req.FileIDs) > 0 && p.attachments != nil {
			p.progress(sessionID, "Reading attached files", "attachments")
			if block := p.buildAttachmentBlock(ctx, user.ID, req.FileIDs); block != "" {
				last.Content = searchText + "\n\n" + block
			} else {
				last.Content = searchText
			}
		} else {
			last.Content = searchText
		}
	}

	// Time context.
	if sm.EnableTimeSense {
		p.progress(sessionID, "Adding time context", "time_context")
		systemContent = AppendTimeContext(systemContent, p.now(), req.Timezone)
	}

	// Semantic retrieval. Failures degrade to no context.
	vectorResults := NoVectorResults
	if p.retriever != nil && searchText != "" {
		p.progress(sessionID, "Searching your documents", "vector_search")
		if text := p.retrieve(ctx, req.SystemMessageID, searchText); text != "" {
			vectorResults = text
			systemContent += "\n\n" + vectorContextOpen + "\n" + text + "\n" + vectorContextClose
		}
	}

	// Web search. Failures degrade to no web context.
	webResults := NoWebSearch
	var searchQueries []string
	if req.EnableWebSearch && p.web != nil && p.web.Enabled() {
		outcome := p.webSearch(ctx, req, user.ID, sessionID, conv.History, searchText)
		if outcome != nil && outcome.Summary != "" {
			webResults = outcome.Summary
			searchQueries = outcome.Queries
			systemContent += "\n\n" + webContextOpen + "\n" + outcome.Summary + "\n" +
				webContextClose + "\n" + webCitationInstruction
		}
	}

	// LLM call. A nil result is fatal for the turn.
	p.progress(sessionID, "Generating response", "llm")
	sent := append([]llm.Message{{Role: "system", Content: systemContent}}, messages...)
	params := llm.GenerationParams{
		Temperature:      &req.Temperature,
		ReasoningEffort:  req.ReasoningEffort,
		ExtendedThinking: req.ExtendedThinking,
		ThinkingBudget:   req.ThinkingBudget,
	}
	result, err := p.gen.Generate(ctx, req.Model, sent, params)
	if err != nil {
		p.failStage(sessionID, "llm", err)
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	if result == nil || result.Text == "" {
		err := fmt.Errorf("model %s returned an empty result", req.Model)
		p.failStage(sessionID, "llm", err)
		return nil, err
	}

	// Tokenization before persistence.
	assistant := llm.Message{Role: "assistant", Content: result.Text}
	promptTokens := p.counter.CountMessages(ctx, req.Model, sent)
	completionTokens := p.counter.CountMessages(ctx, req.Model, []llm.Message{assistant})
	totalTokens := promptTokens + completionTokens

	// Persist. New conversations get a generated title.
	p.progress(sessionID, "Saving conversation", "persist")
	history := append(append([]llm.Message(nil), messages...), assistant)
	title := conv.Title
	if isNew {
		title = GenerateTitle(ctx, p.gen, p.counter, systemContent, history)
	}
	update := store.TurnUpdate{
		History:             history,
		VectorSearchResults: vectorResults,
		SearchQueries:       searchQueries,
		WebSearchResults:    webResults,
		TotalTokens:         conv.TotalTokens + totalTokens,
		Model:               result.Model,
		Temperature:         req.Temperature,
	}
	if isNew {
		update.Title = title
	}
	if err := p.store.SaveTurn(ctx, user.ID, conv.ID, update); err != nil {
		p.failStage(sessionID, "persist", err)
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}

	p.progress(sessionID, "Done", "complete")
	return &datatypes.ChatResponse{
		ChatOutput:          result.Text,
		Response:            result.Text,
		ConversationID:      conv.ID,
		Title:               title,
		VectorSearchResults: vectorResults,
		SearchQueries:       searchQueries,
		WebSearchResults:    webResults,
		SystemMessage:       systemContent,
		Thinking:            result.Thinking,
		Usage: datatypes.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      totalTokens,
		},
		Model:            result.Model,
		EnableWebSearch:  req.EnableWebSearch,
		EnableDeepSearch: req.EnableDeepSearch,
	}, nil
}

// loadConversation returns the existing conversation when the request
// names one the user owns, or creates a fresh row.
func (p *ChatPipeline) loadConversation(ctx context.Context, req *datatypes.ChatRequest, userID int) (*store.Conversation, bool, error) {
	if req.ConversationID != nil {
		conv, err := p.store.GetConversation(ctx, userID, *req.ConversationID)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}
	conv, err := p.store.CreateConversation(ctx, userID, req.SystemMessageID, "")
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// retrieve runs semantic retrieval with the oversized-query guard.
func (p *ChatPipeline) retrieve(ctx context.Context, systemMessageID int, query string) string {
	if p.counter.CountText(ctx, "gpt-4o", query) > embeddingQueryTokenLimit {
		query = p.shortenQuery(ctx, query)
	}
	text, err := p.retriever.QueryIndex(ctx, systemMessageID, query)
	if err != nil {
		slog.Warn("Vector retrieval failed, continuing without context", "error", err)
		p.metrics.RecordStageError("vector_search")
		return ""
	}
	return text
}

// shortenQuery asks the cheap model for a concise rewrite, then falls
// back to character truncation.
func (p *ChatPipeline) shortenQuery(ctx context.Context, query string) string {
	prompt := fmt.Sprintf(
		"Rewrite the following as a concise search query of at most %d tokens, "+
			"preserving the key information need:\n\n%s", rewriteTokenTarget, query)
	result, err := p.gen.Generate(ctx, search.CheapModel,
		[]llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
	if err == nil && result != nil && strings.TrimSpace(result.Text) != "" {
		query = strings.TrimSpace(result.Text)
	}
	if p.counter.CountText(ctx, "gpt-4o", query) > embeddingQueryTokenLimit {
		query = query[:rewriteCharLimit]
	}
	return query
}

// webSearch runs standard or deep search, degrading to nil on failure.
func (p *ChatPipeline) webSearch(ctx context.Context, req *datatypes.ChatRequest, userID int, sessionID string, history []llm.Message, query string) *search.Outcome {
	resultsDir := p.layout.WebSearchResults(userID, req.SystemMessageID)

	var outcome *search.Outcome
	var err error
	mode := "standard"
	if req.EnableDeepSearch {
		mode = "deep"
		p.progress(sessionID, "Running deep web search", "web_search")
		outcome, err = p.web.Deep(ctx, req.Model, history, query, resultsDir)
	} else {
		p.progress(sessionID, "Searching the web", "web_search")
		outcome, err = p.web.Standard(ctx, req.Model, history, query, resultsDir)
	}
	if err != nil {
		slog.Warn("Web search failed, continuing without web context", "error", err)
		p.metrics.RecordSearch(mode, "error")
		p.status.SendStatusUpdate(sessionID, "Web search unavailable", "error")
		return nil
	}
	p.metrics.RecordSearch(mode, "success")
	return outcome
}

// buildAttachmentBlock extracts and wraps each attachment. Missing
// attachments are logged and skipped.
func (p *ChatPipeline) buildAttachmentBlock(ctx context.Context, userID int, fileIDs []string) string {
	var parts []string
	for _, id := range fileIDs {
		text, filename, _, err := p.attachments.GetContent(ctx, userID, id)
		if err != nil {
			slog.Warn("Skipping missing attachment", "attachment_id", id, "error", err)
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Content from %s ---\n%s\n--- End Content from %s ---",
			filename, text, filename))
	}
	if len(parts) == 0 {
		return ""
	}
	return attachmentOpen + "\n" + strings.Join(parts, "\n\n") + "\n" + attachmentClose
}

// StripAttachmentBlock removes a prior sentinel block so re-sent
// messages do not accumulate attachment content.
func StripAttachmentBlock(s string) string {
	start := strings.Index(s, attachmentOpen)
	if start < 0 {
		return s
	}
	end := strings.Index(s[start:], attachmentClose)
	if end < 0 {
		return strings.TrimRight(s[:start], "\n ")
	}
	rest := s[start+end+len(attachmentClose):]
	return strings.TrimRight(s[:start], "\n ") + rest
}

func (p *ChatPipeline) progress(sessionID, message, tag string) {
	p.status.SendStatusUpdate(sessionID, message, tag)
}

func (p *ChatPipeline) failStage(sessionID, tag string, err error) {
	slog.Error("Chat stage failed", "stage", tag, "error", err)
	p.metrics.RecordStageError(tag)
	p.status.SendStatusUpdate(sessionID, fmt.Sprintf("Stage %s failed", tag), "error")
}
