package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/ctxstore/internal"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/service"
)

// captureWait bounds how long capture waits for the writer before exiting.
const captureWait = 30 * time.Second

func stderrLogger(cfg *internal.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withComponents runs fn against an initialized store and closes it afterwards.
func withComponents(ctx context.Context, cmd *cli.Command, fn func(*internal.Components) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := internal.Open(ctx, cfg, stderrLogger(cfg))
	if err != nil {
		return err
	}
	return errors.Join(fn(c), c.Close())
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create the category tree and its README files",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tm := internal.NewTree(cfg, stderrLogger(cfg))
			res := tm.InitializeTree()
			if err := printJSON(cmd.Root().Writer, map[string]any{"root": tm.Root(), "result": res}); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("init: %d errors", len(res.Errors))
			}
			return nil
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Report missing directories under the context root",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			v := internal.NewTree(cfg, stderrLogger(cfg)).ValidateTree()
			if err := printJSON(cmd.Root().Writer, v); err != nil {
				return err
			}
			if !v.IsValid {
				return fmt.Errorf("validate: %d directories missing", len(v.MissingDirectories))
			}
			return nil
		},
	}
}

func repairCommand() *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "Create any missing category directories",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tm := internal.NewTree(cfg, stderrLogger(cfg))
			repaired := tm.RepairTree(nil)
			return printJSON(cmd.Root().Writer, map[string]any{"repaired": repaired, "validation": tm.ValidateTree()})
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print index and directory statistics",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withComponents(ctx, cmd, func(c *internal.Components) error {
				ts, err := c.Tree.Stats()
				if err != nil {
					return err
				}
				return printJSON(cmd.Root().Writer, map[string]any{
					"root":  c.Tree.Root(),
					"index": c.Store.Stats(),
					"tree":  ts,
				})
			})
		},
	}
}

func retrieveCommand() *cli.Command {
	return &cli.Command{
		Name:      "retrieve",
		Usage:     "Find stored chunks for a prompt, or for explicit keywords and categories",
		ArgsUsage: "[prompt...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "keyword", Aliases: []string{"k"}, Usage: "Query keyword (repeatable)"},
			&cli.StringSliceFlag{Name: "category", Usage: "CATEGORY or CATEGORY/subcategory filter (repeatable)"},
			&cli.StringFlag{Name: "instructions", Usage: "Instructions to append the context block to"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Max chunks (default from config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			prompt := strings.Join(cmd.Args().Slice(), " ")
			keywords, categories := cmd.StringSlice("keyword"), cmd.StringSlice("category")
			limit := int(cmd.Int("limit"))
			if strings.TrimSpace(prompt) == "" && len(keywords) == 0 && len(categories) == 0 {
				return errors.New("retrieve: a prompt, --keyword or --category is required")
			}

			return withComponents(ctx, cmd, func(c *internal.Components) error {
				out := cmd.Root().Writer
				if prompt != "" {
					res := c.Service.Enhance(ctx, service.EnhanceRequest{
						Prompt:       prompt,
						Instructions: cmd.String("instructions"),
						Limit:        limit,
					})
					if cmd.String("instructions") == "" && res.Success {
						block, _, _ := service.FormatContext(res.Chunks)
						_, err := fmt.Fprintln(out, block)
						return err
					}
					return printJSON(out, res)
				}
				chunks, err := c.Store.Retrieve(ctx, keywords, categories, limit)
				if err != nil {
					return err
				}
				return printJSON(out, chunks)
			})
		},
	}
}

func captureCommand() *cli.Command {
	return &cli.Command{
		Name:      "capture",
		Usage:     "Extract insights from text and store them",
		ArgsUsage: "[text...] (reads stdin when empty)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Value: string(models.SourceUserPrompt), Usage: "user_prompt or reasoning_stream"},
			&cli.StringFlag{Name: "context", Usage: "Surrounding context passed to the extractor"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			source := models.Source(cmd.String("source"))
			if !source.Valid() {
				return fmt.Errorf("capture: invalid source %q", source)
			}
			text := strings.Join(cmd.Args().Slice(), " ")
			if text == "" {
				data, err := io.ReadAll(cmd.Root().Reader)
				if err != nil {
					return fmt.Errorf("capture: read stdin: %w", err)
				}
				text = string(data)
			}

			return withComponents(ctx, cmd, func(c *internal.Components) error {
				res := c.Service.Capture(ctx, service.CaptureRequest{Text: text, Context: cmd.String("context"), Source: source})
				if !res.Success {
					return fmt.Errorf("capture: %s: %s", res.Summary, res.Error)
				}
				report := map[string]any{"summary": res.Summary, "extracted": res.Extracted}
				if res.Task != nil {
					waitCtx, cancel := context.WithTimeout(ctx, captureWait)
					defer cancel()
					done, err := res.Task.Wait(waitCtx)
					if err != nil {
						return fmt.Errorf("capture: wait for task %s: %w", res.TaskID, err)
					}
					report["ids"] = done.IDs
					if done.Err != nil {
						report["rejected"] = done.Err.Error()
					}
				}
				return printJSON(cmd.Root().Writer, report)
			})
		},
	}
}
