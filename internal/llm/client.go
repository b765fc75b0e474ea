// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm wraps OpenAI-compatible chat endpoints (Ollama, OpenAI,
// Anthropic gateways) behind one client interface with tool calling.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/molbiohive/hive-browser/internal/config"
)

// callTimeout bounds a single chat completion.
const callTimeout = 120 * time.Second

// Usage is token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatRequest is one completion request. ToolChoice may be "" (model
// decides) or "none" to force a text turn.
type ChatRequest struct {
	Messages   []openai.ChatCompletionMessage
	Tools      []openai.Tool
	ToolChoice string
}

// ChatResponse is the first choice of a completion.
type ChatResponse struct {
	Message      openai.ChatCompletionMessage
	FinishReason string
	Usage        Usage
}

// Client is one configured model endpoint.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Health reports whether the endpoint is reachable.
	Health(ctx context.Context) bool
	ModelID() string
}

// OpenAIClient talks to any OpenAI-compatible endpoint via go-openai.
type OpenAIClient struct {
	client *openai.Client
	entry  config.ModelEntry
}

// NewOpenAIClient builds a client for one model entry.
func NewOpenAIClient(entry config.ModelEntry) *OpenAIClient {
	cfg := openai.DefaultConfig(entry.APIKey)
	if entry.BaseURL != "" {
		cfg.BaseURL = entry.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: callTimeout}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), entry: entry}
}

func (c *OpenAIClient) ModelID() string {
	return c.entry.ID()
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	apiReq := openai.ChatCompletionRequest{
		Model:    c.entry.Model,
		Messages: req.Messages,
		Tools:    req.Tools,
	}
	if req.ToolChoice != "" {
		apiReq.ToolChoice = req.ToolChoice
	}

	resp, err := c.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion (%s): %w", c.entry.ID(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion (%s): no choices returned", c.entry.ID())
	}
	choice := resp.Choices[0]
	return &ChatResponse{
		Message:      choice.Message,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Health probes Ollama's model listing; cloud providers are considered
// healthy when a key is configured.
func (c *OpenAIClient) Health(ctx context.Context) bool {
	if c.entry.Provider != "ollama" {
		return c.entry.APIKey != ""
	}
	base := strings.TrimSuffix(strings.TrimRight(c.entry.BaseURL, "/"), "/v1")
	if base == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
