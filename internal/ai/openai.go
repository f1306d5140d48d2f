// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ai

import (
	"context"
	"errors"

	"github.com/noldarim/inkwell/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAICompleter struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewOpenAIInvoker serves steps from the OpenAI Chat Completions API.
func NewOpenAIInvoker(cfg config.AIConfig, opts ...option.RequestOption) Invoker {
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	clientOpts = append(clientOpts, opts...)

	return &chatInvoker{
		provider: "openai",
		timeout:  cfg.Timeout,
		completer: &openAICompleter{
			client:    openai.NewClient(clientOpts...),
			model:     cfg.Model,
			maxTokens: cfg.MaxTokens,
		},
	}
}

func (o *openAICompleter) complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if o.maxTokens > 0 {
		params.MaxTokens = openai.Int(o.maxTokens)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
