// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/noldarim/inkwell/internal/models"
)

const maxErrorBody = 4096

// HTTPInvoker calls the writing backend's AI endpoints:
// POST <base>/api/ai/<endpoint> with {"params": ..., "context": ...}.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPInvoker creates an invoker for the backend at baseURL.
func NewHTTPInvoker(baseURL string, timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type invokeRequest struct {
	Params  map[string]any `json:"params"`
	Context map[string]any `json:"context"`
}

func (h *HTTPInvoker) Invoke(ctx context.Context, stepType models.StepType, params, stepContext map[string]any) (Result, error) {
	endpoint, ok := Endpoint(stepType)
	if !ok {
		return Result{}, fmt.Errorf("no endpoint for step type %q", stepType)
	}

	body, err := json.Marshal(invokeRequest{Params: params, Context: stepContext})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	url := h.baseURL + "/api/ai/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	getLog().Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("AI request finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var r Result
		if json.Unmarshal(raw, &r) == nil && r.Error != "" {
			return Result{Success: false, Error: r.Error}, nil
		}
		return Result{Success: false, Error: fmt.Sprintf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}, nil
	}

	var r Result
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Result{}, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return r, nil
}
