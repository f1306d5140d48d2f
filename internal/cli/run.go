// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/noldarim/inkwell/internal/app"
	"github.com/noldarim/inkwell/internal/config"
	"github.com/noldarim/inkwell/internal/connection"
	"github.com/noldarim/inkwell/internal/forms"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/noldarim/inkwell/internal/recovery"
	"github.com/samber/lo"
)

// errAborted is returned when the user gives up on a failed pipeline.
var errAborted = errors.New("pipeline aborted")

type runOptions struct {
	configPath   string
	template     string
	pipelineFile string            // --pipeline or -p flag
	vars         map[string]string // --var key=value flags
	offline      bool
	noInput      bool
}

func runCommand(args []string) error {
	opts := &runOptions{vars: make(map[string]string)}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.template, "template", "", "Template ID (prompts for one if omitted)")
	fs.StringVar(&opts.template, "t", "", "Template ID (shorthand)")
	fs.StringVar(&opts.pipelineFile, "pipeline", "", "Path to pipeline YAML file")
	fs.StringVar(&opts.pipelineFile, "p", "", "Path to pipeline YAML file (shorthand)")
	fs.BoolVar(&opts.offline, "offline", false, "Do not connect to the backend socket")
	fs.BoolVar(&opts.noInput, "no-input", false, "Never prompt; fail on missing inputs and step errors")

	// Custom flag for --var (can be repeated)
	fs.Func("var", "Set input or variable (key=value), can be repeated", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid var format, use key=value")
		}
		opts.vars[k] = v
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.template != "" && opts.pipelineFile != "" {
		return fmt.Errorf("--template and --pipeline are mutually exclusive")
	}
	if opts.noInput && opts.template == "" && opts.pipelineFile == "" {
		return fmt.Errorf("--no-input requires --template or --pipeline")
	}

	return executeRun(opts)
}

func executeRun(opts *runOptions) error {
	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Logging goes to file only for the CLI, keep the terminal clean
	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.CloseGlobal()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var appOpts []app.Option
	if opts.offline {
		appOpts = append(appOpts, app.Offline())
	}
	a, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(ctx)

	p, err := buildPipeline(ctx, a, opts)
	if err != nil {
		return err
	}
	getLog().Info().Str("pipeline_id", p.ID).Str("template_id", p.TemplateID).Msg("Running pipeline from CLI")

	fmt.Println(renderBanner(p))
	fmt.Println()

	r := &runner{app: a, pipelineID: p.ID, interactive: !opts.noInput}
	err = r.watch(ctx)

	final, _ := a.Pipelines.Pipeline(p.ID)
	fmt.Println()
	fmt.Println(renderSummary(final))
	return err
}

func buildPipeline(ctx context.Context, a *app.App, opts *runOptions) (models.Pipeline, error) {
	if opts.pipelineFile != "" {
		file, err := LoadPipelineFile(opts.pipelineFile)
		if err != nil {
			return models.Pipeline{}, err
		}
		return file.Create(a.Pipelines, a.Research, opts.vars)
	}

	templateID := opts.template
	if templateID == "" {
		id, err := forms.SelectTemplate(ctx, a.Templates)
		if err != nil {
			return models.Pipeline{}, err
		}
		templateID = id
	}
	t, ok := models.FindTemplate(a.Templates, templateID)
	if !ok {
		return models.Pipeline{}, fmt.Errorf("unknown template %q", templateID)
	}

	answers := forms.Answers(opts.vars)
	if !opts.noInput {
		var err error
		answers, err = forms.New(t, answers).Run(ctx)
		if err != nil {
			return models.Pipeline{}, err
		}
	}
	return forms.Instantiate(a.Pipelines, a.Research, t, answers)
}

// runner drives one pipeline to completion from the terminal, offering
// recovery actions when a step fails.
type runner struct {
	app         *app.App
	pipelineID  string
	interactive bool
}

func (r *runner) start(ctx context.Context) {
	go func() {
		if err := r.app.Executor.Start(ctx, r.pipelineID); err != nil && !errors.Is(err, context.Canceled) {
			getLog().Error().Err(err).Str("pipeline_id", r.pipelineID).Msg("Pipeline run aborted")
		}
	}()
}

func (r *runner) watch(ctx context.Context) error {
	r.start(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.app.Events():
			done, err := r.handle(ctx, ev)
			if done || err != nil {
				return err
			}
		}
	}
}

func (r *runner) handle(ctx context.Context, ev protocol.Event) (bool, error) {
	switch e := ev.(type) {
	case protocol.PipelineLifecycleEvent:
		if e.PipelineID != r.pipelineID {
			return false, nil
		}
		if line := renderLifecycle(e); line != "" {
			fmt.Println(line)
		}
		switch e.Type {
		case protocol.PipelineFinished:
			return true, nil
		case protocol.PipelinePaused:
			if r.app.Conn == nil {
				return true, nil
			}
			fmt.Println(dimStyle.Render("  waiting for the backend connection..."))
		case protocol.PipelineStepFailed:
			return r.offerRecovery(ctx)
		}
	case protocol.ConnectionStateEvent:
		fmt.Println(renderConnection(e))
		if connection.State(e.State) == connection.StateConnected && r.isPaused() {
			r.start(ctx)
		}
	}
	return false, nil
}

func (r *runner) isPaused() bool {
	p, ok := r.app.Pipelines.Pipeline(r.pipelineID)
	return ok && p.Status == models.PipelineStatusPaused && !r.app.Executor.IsExecuting(r.pipelineID)
}

func (r *runner) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for r.app.Executor.IsExecuting(r.pipelineID) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// offerRecovery shows the recovery panel and dispatches the chosen action. The
// executor is restarted by the controller, so watching simply continues.
func (r *runner) offerRecovery(ctx context.Context) (bool, error) {
	if err := r.waitIdle(ctx); err != nil {
		return true, err
	}
	for {
		st := r.app.Recovery.Status(r.pipelineID)
		fmt.Println(renderRecovery(st))
		if !r.interactive {
			return true, fmt.Errorf("%w: %s", errAborted, st.Message)
		}

		action, err := promptRecovery(ctx, st)
		if err != nil {
			return true, err
		}
		if action == "" {
			return true, errAborted
		}
		if _, err := r.app.Recovery.Dispatch(ctx, r.pipelineID, action); err != nil {
			fmt.Println(failStyle.Render("▸ " + err.Error()))
			continue
		}
		return false, nil
	}
}

// promptRecovery asks for one of the enabled step actions. An empty action
// means abort.
func promptRecovery(ctx context.Context, st recovery.Status) (recovery.Action, error) {
	enabled := lo.Filter(st.Actions, func(a recovery.ActionStatus, _ int) bool {
		return a.Enabled && a.Action != recovery.ActionWaitConnection
	})
	opts := lo.Map(enabled, func(a recovery.ActionStatus, _ int) huh.Option[string] {
		return huh.NewOption(a.Label, string(a.Action))
	})
	opts = append(opts, huh.NewOption("Abort", ""))

	var choice string
	if len(enabled) > 0 {
		choice = string(enabled[0].Action)
	}
	err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("What next?").
			Options(opts...).
			Value(&choice),
	)).WithTheme(huh.ThemeCharm()).RunWithContext(ctx)
	if err != nil {
		return "", err
	}
	if choice == "" {
		return "", nil
	}
	action, _ := recovery.ParseAction(choice)
	return action, nil
}
