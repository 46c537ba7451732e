// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/pkg/paths"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/store"
	"github.com/AleutianAI/AleutianChat/services/search"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeConvStore struct {
	mu             sync.Mutex
	systemMessages map[int]*store.SystemMessage
	conversations  map[int]*store.Conversation
	nextID         int
	savedUpdates   map[int]store.TurnUpdate
	saveErr        error
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{
		systemMessages: map[int]*store.SystemMessage{},
		conversations:  map[int]*store.Conversation{},
		savedUpdates:   map[int]store.TurnUpdate{},
		nextID:         100,
	}
}

func (f *fakeConvStore) GetSystemMessage(_ context.Context, id int) (*store.SystemMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sm, ok := f.systemMessages[id]
	if !ok {
		return nil, &store.NotFoundError{Entity: "system message", ID: id}
	}
	copied := *sm
	return &copied, nil
}

func (f *fakeConvStore) GetConversation(_ context.Context, userID, id int) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, &store.NotFoundError{Entity: "conversation", ID: id}
	}
	copied := *conv
	return &copied, nil
}

func (f *fakeConvStore) CreateConversation(_ context.Context, userID, systemMessageID int, title string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	conv := &store.Conversation{
		ID:              f.nextID,
		UserID:          userID,
		SystemMessageID: systemMessageID,
		Title:           title,
	}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeConvStore) SaveTurn(_ context.Context, userID, id int, update store.TurnUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	conv, ok := f.conversations[id]
	if !ok || conv.UserID != userID {
		return &store.NotFoundError{Entity: "conversation", ID: id}
	}
	conv.History = update.History
	conv.TotalTokens = update.TotalTokens
	if update.Title != "" {
		conv.Title = update.Title
	}
	f.savedUpdates[id] = update
	return nil
}

// pipelineGen answers the main call with reply and auxiliary calls
// (titles, summaries) with aux. It records every message list sent.
type pipelineGen struct {
	mu    sync.Mutex
	reply string
	aux   string
	err   error
	sent  [][]llm.Message
}

func (g *pipelineGen) Generate(_ context.Context, model string, messages []llm.Message, _ llm.GenerationParams) (*llm.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, messages)
	if model == search.CheapModel {
		return &llm.Result{Text: g.aux, Model: model}, nil
	}
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Result{Text: g.reply, Model: model}, nil
}

// mainCall returns the message list of the primary generation call: the
// one with a leading system message.
func (g *pipelineGen) mainCall(t *testing.T) []llm.Message {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, msgs := range g.sent {
		if len(msgs) > 1 && msgs[0].Role == "system" {
			return msgs
		}
	}
	t.Fatal("no main generation call recorded")
	return nil
}

type fakeRetriever struct {
	result  string
	err     error
	queries []string
}

func (f *fakeRetriever) QueryIndex(_ context.Context, _ int, query string) (string, error) {
	f.queries = append(f.queries, query)
	return f.result, f.err
}

type fakeWebSearcher struct {
	outcome *search.Outcome
	err     error
	deep    bool
}

func (f *fakeWebSearcher) Enabled() bool { return true }

func (f *fakeWebSearcher) Standard(_ context.Context, _ string, _ []llm.Message, _, _ string) (*search.Outcome, error) {
	return f.outcome, f.err
}

func (f *fakeWebSearcher) Deep(_ context.Context, _ string, _ []llm.Message, _, _ string) (*search.Outcome, error) {
	f.deep = true
	return f.outcome, f.err
}

type fakeAttachmentSource struct {
	files map[string]string // id -> content; filename is id + ".txt"
}

func (f *fakeAttachmentSource) GetContent(_ context.Context, _ int, id string) (string, string, string, error) {
	content, ok := f.files[id]
	if !ok {
		return "", "", "", fmt.Errorf("attachment %s not found", id)
	}
	return content, id + ".txt", "text/plain", nil
}

type fakeStatus struct {
	mu       sync.Mutex
	updates  []string
	tags     []string
	removed  bool
	handlerF bool
}

func (f *fakeStatus) SendStatusUpdate(_, message, tag string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, message)
	f.tags = append(f.tags, tag)
	return true
}

func (f *fakeStatus) RemoveConnection(_ string, fromHandler bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
	f.handlerF = fromHandler
}

// =============================================================================
// Harness
// =============================================================================

type pipelineEnv struct {
	store    *fakeConvStore
	gen      *pipelineGen
	retr     *fakeRetriever
	web      *fakeWebSearcher
	atts     *fakeAttachmentSource
	status   *fakeStatus
	pipeline *ChatPipeline
	now      time.Time
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	env := &pipelineEnv{
		store:  newFakeConvStore(),
		gen:    &pipelineGen{reply: "Hello there!", aux: "Quick Greeting"},
		retr:   &fakeRetriever{},
		web:    &fakeWebSearcher{},
		atts:   &fakeAttachmentSource{files: map[string]string{}},
		status: &fakeStatus{},
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.store.systemMessages[1] = &store.SystemMessage{
		ID:      1,
		Name:    store.DefaultSystemMessageName,
		Content: "You are a helpful assistant.",
	}
	env.pipeline = NewChatPipeline(
		env.store, env.gen, llm.NewCounter(nil),
		env.retr, env.web, env.atts, env.status,
		paths.NewLayout(t.TempDir()), nil,
		func() time.Time { return env.now },
	)
	return env
}

func baseRequest() *datatypes.ChatRequest {
	return &datatypes.ChatRequest{
		Messages:        []llm.Message{{Role: "user", Content: "hello"}},
		Model:           "gpt-4o-mini",
		Temperature:     0.3,
		SystemMessageID: 1,
	}
}

func testUser() *store.User {
	return &store.User{ID: 7, Username: "casey", IsActive: true}
}

// =============================================================================
// Tests
// =============================================================================

func TestRunNewConversationDefaults(t *testing.T) {
	env := newPipelineEnv(t)

	resp, err := env.pipeline.Run(context.Background(), baseRequest(), testUser(), "7-session")
	require.NoError(t, err)

	assert.Equal(t, "Hello there!", resp.ChatOutput)
	assert.Equal(t, resp.ChatOutput, resp.Response)
	assert.Greater(t, resp.ConversationID, 0)
	words := len(strings.Fields(resp.Title))
	assert.GreaterOrEqual(t, words, 2)
	assert.LessOrEqual(t, words, 4)
	assert.Equal(t, NoWebSearch, resp.WebSearchResults)
	assert.Equal(t, NoVectorResults, resp.VectorSearchResults)
	assert.True(t, env.status.removed, "session must be deregistered")
}

func TestRunExistingConversationKeepsTitle(t *testing.T) {
	env := newPipelineEnv(t)
	conv, err := env.store.CreateConversation(context.Background(), 7, 1, "Prior Title")
	require.NoError(t, err)

	req := baseRequest()
	req.ConversationID = &conv.ID

	resp, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, resp.ConversationID)
	assert.Equal(t, "Prior Title", resp.Title)
}

func TestRunRejectsForeignConversation(t *testing.T) {
	env := newPipelineEnv(t)
	conv, err := env.store.CreateConversation(context.Background(), 99, 1, "theirs")
	require.NoError(t, err)

	req := baseRequest()
	req.ConversationID = &conv.ID

	_, err = env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
	assert.True(t, env.status.removed)
}

func TestRunAttachmentInjection(t *testing.T) {
	env := newPipelineEnv(t)
	env.atts.files["att1"] = "foo\nbar\nbaz"

	req := baseRequest()
	req.Messages = []llm.Message{{Role: "user", Content: "summarize"}}
	req.FileIDs = []string{"att1"}

	_, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)

	sent := env.gen.mainCall(t)
	last := sent[len(sent)-1].Content
	assert.Contains(t, last, "--- Content from att1.txt ---")
	assert.Contains(t, last, "foo\nbar\nbaz")
	assert.Contains(t, last, "--- End Content from att1.txt ---")
}

func TestRunAttachmentBlockIsReplacedNotAccumulated(t *testing.T) {
	env := newPipelineEnv(t)
	env.atts.files["att1"] = "fresh content"

	stale := "summarize\n\n" + attachmentOpen + "\n--- Content from old.txt ---\nstale\n--- End Content from old.txt ---\n" + attachmentClose
	req := baseRequest()
	req.Messages = []llm.Message{{Role: "user", Content: stale}}
	req.FileIDs = []string{"att1"}

	_, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)

	sent := env.gen.mainCall(t)
	last := sent[len(sent)-1].Content
	assert.Equal(t, 1, strings.Count(last, attachmentOpen))
	assert.NotContains(t, last, "stale")
	assert.Contains(t, last, "fresh content")
}

func TestRunMissingAttachmentSkipped(t *testing.T) {
	env := newPipelineEnv(t)

	req := baseRequest()
	req.FileIDs = []string{"gone"}

	resp, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ChatOutput)

	sent := env.gen.mainCall(t)
	assert.NotContains(t, sent[len(sent)-1].Content, attachmentOpen)
}

func TestRunSearchTextExcludesAttachments(t *testing.T) {
	env := newPipelineEnv(t)
	env.atts.files["att1"] = "attached body"
	env.retr.result = "[Source: Document f1, Relevance: 0.92]\nchunk"

	req := baseRequest()
	req.Messages = []llm.Message{{Role: "user", Content: "find things"}}
	req.FileIDs = []string{"att1"}

	_, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)

	require.Len(t, env.retr.queries, 1)
	assert.Equal(t, "find things", env.retr.queries[0])
}

func TestRunTimeContextSingleBlockAcrossTurns(t *testing.T) {
	env := newPipelineEnv(t)
	env.store.systemMessages[1].EnableTimeSense = true

	resp1, err := env.pipeline.Run(context.Background(), baseRequest(), testUser(), "7-s1")
	require.NoError(t, err)

	env.now = env.now.Add(3 * time.Hour)
	req2 := baseRequest()
	req2.ConversationID = &resp1.ConversationID
	resp2, err := env.pipeline.Run(context.Background(), req2, testUser(), "7-s2")
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(resp2.SystemMessage, "<Time Context>"))
	assert.Contains(t, resp1.SystemMessage, "12:00 PM")
	assert.Contains(t, resp2.SystemMessage, "3:00 PM")
}

func TestRunVectorContextInjection(t *testing.T) {
	env := newPipelineEnv(t)
	env.retr.result = "[Source: Document f1, Relevance: 0.92]\nalpha beta gamma"

	resp, err := env.pipeline.Run(context.Background(), baseRequest(), testUser(), "7-session")
	require.NoError(t, err)

	assert.Equal(t, env.retr.result, resp.VectorSearchResults)
	sent := env.gen.mainCall(t)
	assert.Contains(t, sent[0].Content, vectorContextOpen)
	assert.Contains(t, sent[0].Content, "alpha beta gamma")
}

func TestRunRetrievalFailureDegrades(t *testing.T) {
	env := newPipelineEnv(t)
	env.retr.err = fmt.Errorf("index unavailable")

	resp, err := env.pipeline.Run(context.Background(), baseRequest(), testUser(), "7-session")
	require.NoError(t, err)
	assert.Equal(t, NoVectorResults, resp.VectorSearchResults)
	assert.NotEmpty(t, resp.ChatOutput)
}

func TestRunWebSearchInjection(t *testing.T) {
	env := newPipelineEnv(t)
	env.web.outcome = &search.Outcome{
		Summary: "Answer [1].\n\nSources:\n[1] https://example.com",
		Queries: []string{"rewritten query"},
	}

	req := baseRequest()
	req.EnableWebSearch = true

	resp, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)

	assert.Equal(t, env.web.outcome.Summary, resp.WebSearchResults)
	assert.Equal(t, []string{"rewritten query"}, resp.SearchQueries)
	sent := env.gen.mainCall(t)
	assert.Contains(t, sent[0].Content, webContextOpen)
	assert.Contains(t, sent[0].Content, "Sources:")
	assert.False(t, env.web.deep)
}

func TestRunDeepSearchFlag(t *testing.T) {
	env := newPipelineEnv(t)
	env.web.outcome = &search.Outcome{Summary: "deep summary [1]", Queries: []string{"q1", "q2", "q3"}}

	req := baseRequest()
	req.EnableWebSearch = true
	req.EnableDeepSearch = true

	_, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)
	assert.True(t, env.web.deep)
}

func TestRunWebSearchFailureDegrades(t *testing.T) {
	env := newPipelineEnv(t)
	env.web.err = fmt.Errorf("brave down")

	req := baseRequest()
	req.EnableWebSearch = true

	resp, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)
	assert.Equal(t, NoWebSearch, resp.WebSearchResults)
	assert.Contains(t, env.status.tags, "error")
}

func TestRunWebSearchRecordsMetrics(t *testing.T) {
	env := newPipelineEnv(t)
	m := observability.InitMetrics()
	env.pipeline.metrics = m
	env.web.outcome = &search.Outcome{Summary: "summary [1]", Queries: []string{"q"}}

	req := baseRequest()
	req.EnableWebSearch = true

	before := testutil.ToFloat64(m.SearchesTotal.WithLabelValues("standard", "success"))
	_, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)
	assert.Equal(t, before+1,
		testutil.ToFloat64(m.SearchesTotal.WithLabelValues("standard", "success")))
}

func TestRunWebSearchFailureRecordsMetrics(t *testing.T) {
	env := newPipelineEnv(t)
	m := observability.InitMetrics()
	env.pipeline.metrics = m
	env.web.err = fmt.Errorf("brave down")

	req := baseRequest()
	req.EnableWebSearch = true
	req.EnableDeepSearch = true

	before := testutil.ToFloat64(m.SearchesTotal.WithLabelValues("deep", "error"))
	_, err := env.pipeline.Run(context.Background(), req, testUser(), "7-session")
	require.NoError(t, err)
	assert.Equal(t, before+1,
		testutil.ToFloat64(m.SearchesTotal.WithLabelValues("deep", "error")))
}

func TestRunStageFailureRecordsErrorMetric(t *testing.T) {
	env := newPipelineEnv(t)
	m := observability.InitMetrics()
	env.pipeline.metrics = m
	env.gen.err = fmt.Errorf("provider exploded")

	before := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("llm"))
	_, err := env.pipeline.Run(context.Background(), baseRequest(), testUser(), "7-session")
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("llm")))
}

func TestRunLLMFailureIsFatal(t *testing.T) {
	env := newPipelineEnv(t)
	env.gen.err = fmt.Errorf("provider exploded")

	_, err := env.pipeline.Run(context.Background(), baseRequest(), testUser(), "7-session")
	require.Error(t, err)
	assert.True(t, env.status.removed, "session deregistered even on failure")
}

func TestRunTokenAccounting(t *testing.T) {
	env := newPipelineEnv(t)

	resp, err := env.pipeline.Run(context.Background(), baseRequest(), testUser(), "7-session")
	require.NoError(t, err)

	counter := llm.NewCounter(nil)
	sent := env.gen.mainCall(t)
	wantPrompt := counter.CountMessages(context.Background(), "gpt-4o-mini", sent)
	wantCompletion := counter.CountMessages(context.Background(), "gpt-4o-mini",
		[]llm.Message{{Role: "assistant", Content: resp.ChatOutput}})

	assert.Equal(t, wantPrompt, resp.Usage.PromptTokens)
	assert.Equal(t, wantCompletion, resp.Usage.CompletionTokens)
	assert.Equal(t, wantPrompt+wantCompletion, resp.Usage.TotalTokens)
}

func TestRunPersistsHistoryWithAssistantReply(t *testing.T) {
	env := newPipelineEnv(t)

	resp, err := env.pipeline.Run(context.Background(), baseRequest(), testUser(), "7-session")
	require.NoError(t, err)

	update, ok := env.store.savedUpdates[resp.ConversationID]
	require.True(t, ok)
	require.Len(t, update.History, 2)
	assert.Equal(t, "user", update.History[0].Role)
	assert.Equal(t, "assistant", update.History[1].Role)
	assert.Equal(t, "Hello there!", update.History[1].Content)
	assert.Equal(t, resp.Usage.TotalTokens, update.TotalTokens)
}

func TestRunPersistFailureIsFatal(t *testing.T) {
	env := newPipelineEnv(t)
	env.store.saveErr = fmt.Errorf("disk full")

	_, err := env.pipeline.Run(context.Background(), baseRequest(), testUser(), "7-session")
	require.Error(t, err)
	assert.True(t, env.status.removed)
}

func TestStripAttachmentBlock(t *testing.T) {
	body := "question\n\n" + attachmentOpen + "\ninner\n" + attachmentClose
	assert.Equal(t, "question", StripAttachmentBlock(body))
	assert.Equal(t, "plain text", StripAttachmentBlock("plain text"))
}
