// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/noldarim/inkwell/internal/config"
	"google.golang.org/genai"
)

type googleCompleter struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// NewGoogleInvoker serves steps from the Gemini API.
func NewGoogleInvoker(ctx context.Context, cfg config.AIConfig) (Invoker, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai.api_key is required for provider \"google\"")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &chatInvoker{
		provider: "google",
		timeout:  cfg.Timeout,
		completer: &googleCompleter{
			client:    client,
			model:     cfg.Model,
			maxTokens: int32(cfg.MaxTokens),
		},
	}, nil
}

func (g *googleCompleter) complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	cfg := &genai.GenerateContentConfig{}
	if g.maxTokens > 0 {
		cfg.MaxOutputTokens = g.maxTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
