// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ai

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/noldarim/inkwell/internal/config"
)

type anthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicInvoker serves steps directly from the Anthropic Messages API.
// Without an API key in cfg the SDK falls back to ANTHROPIC_API_KEY.
func NewAnthropicInvoker(cfg config.AIConfig, opts ...option.RequestOption) Invoker {
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	clientOpts = append(clientOpts, opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &chatInvoker{
		provider: "anthropic",
		timeout:  cfg.Timeout,
		completer: &anthropicCompleter{
			client:    anthropic.NewClient(clientOpts...),
			model:     cfg.Model,
			maxTokens: maxTokens,
		},
	}
}

func (a *anthropicCompleter) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
