// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/noldarim/inkwell/internal/config"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
	"github.com/noldarim/inkwell/internal/storage"
)

func parseListFlags(name string, args []string) (*config.AppConfig, error) {
	var configPath string
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func templatesCommand(args []string) error {
	cfg, err := parseListFlags("templates", args)
	if err != nil {
		return err
	}
	templates, err := models.LoadTemplates(cfg.Templates.File)
	if err != nil {
		return err
	}
	printTemplates(os.Stdout, templates)
	return nil
}

func pipelinesCommand(args []string) error {
	cfg, err := parseListFlags("pipelines", args)
	if err != nil {
		return err
	}

	// Just storage access, no connection or executor
	slots, err := storage.New(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer slots.Close()

	store := pipeline.NewStore(context.Background(), slots)
	pipelines := store.Pipelines()
	if len(pipelines) == 0 {
		fmt.Println("No pipelines found.")
		fmt.Println("\nCreate one with:")
		fmt.Printf("  %s run\n", appName)
		return nil
	}
	activeID := ""
	if p, ok := store.ActivePipeline(); ok {
		activeID = p.ID
	}
	printPipelines(os.Stdout, pipelines, activeID)
	return nil
}

func printTemplates(w io.Writer, templates []models.Template) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-24s  %-12s  %-6s  %s\n", "ID", "CATEGORY", "STEPS", "NAME")
	fmt.Fprintln(w, strings.Repeat("─", 24)+"  "+strings.Repeat("─", 12)+"  "+strings.Repeat("─", 6)+"  "+strings.Repeat("─", 32))
	for _, t := range templates {
		fmt.Fprintf(w, "%-24s  %-12s  %-6d  %s\n", truncateForDisplay(t.ID, 24), truncateForDisplay(t.Category, 12), len(t.Steps), t.Name)
	}
	fmt.Fprintln(w)
}

func printPipelines(w io.Writer, pipelines []models.Pipeline, activeID string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-36s  %-10s  %-6s  %s\n", "ID", "STATUS", "STEPS", "NAME")
	fmt.Fprintln(w, "  "+strings.Repeat("─", 36)+"  "+strings.Repeat("─", 10)+"  "+strings.Repeat("─", 6)+"  "+strings.Repeat("─", 32))
	for _, p := range pipelines {
		marker := " "
		if p.ID == activeID {
			marker = "*"
		}
		done := p.FirstIncompleteStep()
		fmt.Fprintf(w, "%s %-36s  %-10s  %-6s  %s\n", marker, p.ID, p.DeriveStatus(),
			fmt.Sprintf("%d/%d", done, len(p.Steps)), truncateForDisplay(p.Name, 40))
	}
	fmt.Fprintln(w)
}
