// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/services/llm"
)

func validRequest() *ChatRequest {
	return &ChatRequest{
		Messages:        []llm.Message{{Role: "user", Content: "hello"}},
		Model:           "gpt-4o",
		Temperature:     0.7,
		SystemMessageID: 1,
	}
}

func TestChatRequestValid(t *testing.T) {
	require.NoError(t, validRequest().Validate())
}

func TestChatRequestRejectsEmptyMessages(t *testing.T) {
	r := validRequest()
	r.Messages = nil
	assert.Error(t, r.Validate())
}

func TestChatRequestRejectsMissingModel(t *testing.T) {
	r := validRequest()
	r.Model = ""
	assert.Error(t, r.Validate())
}

func TestChatRequestRejectsOversizedContent(t *testing.T) {
	r := validRequest()
	r.Messages[0].Content = strings.Repeat("a", MaxMessageContentBytes+1)
	assert.Error(t, r.Validate())
}

func TestChatRequestRejectsBadReasoningEffort(t *testing.T) {
	r := validRequest()
	r.ReasoningEffort = "extreme"
	assert.Error(t, r.Validate())

	r.ReasoningEffort = "high"
	assert.NoError(t, r.Validate())
}

func TestChatRequestRejectsExcessThinkingBudget(t *testing.T) {
	r := validRequest()
	r.ThinkingBudget = MaxBudgetTokens + 1
	assert.Error(t, r.Validate())
}

func TestChatRequestTemperatureBounds(t *testing.T) {
	r := validRequest()
	r.Temperature = 2.5
	assert.Error(t, r.Validate())
}

func TestSystemMessageRequestContentCap(t *testing.T) {
	req := SystemMessageRequest{
		Name:    "persona",
		Content: strings.Repeat("x", MaxMessageContentBytes+1),
	}
	assert.Error(t, ValidateStruct(req))

	req.Content = "short"
	assert.NoError(t, ValidateStruct(req))
}
