package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zendizmo/rlm-analyzer/internal/config"
	"github.com/zendizmo/rlm-analyzer/internal/fileset"
	"github.com/zendizmo/rlm-analyzer/internal/provider"
	"github.com/zendizmo/rlm-analyzer/internal/rlm"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/trace"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [question...]",
	Short: "Answer a question about a source tree",
	Long: `Run the recursive analysis loop against a source tree.

The question can be provided as arguments or piped from stdin. The
tree is loaded from a directory walk (--dir) or a JSON manifest of
path-to-content pairs (--manifest).`,
	Example: `
# Analyze the current directory
rlm-analyzer analyze --dir . "What does this service do?"

# Security-focused analysis
rlm-analyzer analyze --dir ./src --mode security "Any injection risks?"

# Use a prepared manifest
rlm-analyzer analyze --manifest files.json "Summarize the architecture"

# Show per-turn progress and the session trace
rlm-analyzer analyze --dir . --progress --trace "Map the dependencies"
  `,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		manifest, _ := cmd.Flags().GetString("manifest")
		mode, _ := cmd.Flags().GetString("mode")
		doRefine, _ := cmd.Flags().GetBool("refine")
		showTrace, _ := cmd.Flags().GetBool("trace")
		showProgress, _ := cmd.Flags().GetBool("progress")
		showStats, _ := cmd.Flags().GetBool("stats")
		configPath, _ := cmd.Flags().GetString("config")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		question := strings.Join(args, " ")
		question, err = maybePrependStdin(question)
		if err != nil {
			return err
		}
		if question == "" {
			return fmt.Errorf("no question provided")
		}

		set, err := loadFiles(dir, manifest, cfg)
		if err != nil {
			return err
		}
		if len(set.Paths) == 0 {
			return fmt.Errorf("no files to analyze")
		}

		engine := buildEngine(cfg, doRefine)

		recorder := trace.NewMemoryRecorder(0)
		var sqliteRec *trace.SQLiteRecorder
		if cfg.TracePath != "" {
			sqliteRec, err = trace.NewSQLiteRecorder(trace.SQLiteConfig{Path: cfg.TracePath})
			if err != nil {
				return fmt.Errorf("open trace database: %w", err)
			}
			defer sqliteRec.Close()
			engine.SetRecorder(teeRecorder{recorder, sqliteRec})
		} else {
			engine.SetRecorder(recorder)
		}

		if showProgress {
			engine.SetProgressCallback(func(ev rlm.ProgressEvent) {
				fmt.Fprintln(os.Stderr, rlm.FormatProgressEvent(ev))
			})
		}

		if mode == "" {
			mode = cfg.Mode
		}
		result := engine.Analyze(ctx, question, &rlm.Context{
			Files: set.Files,
			Paths: set.Paths,
			Mode:  mode,
		})

		if !result.Success {
			printSessionDetail(result, recorder, showTrace, showStats)
			return fmt.Errorf("analysis failed: %s", result.Error)
		}

		fmt.Println(result.Answer)
		printSessionDetail(result, recorder, showTrace, showStats)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringP("dir", "d", "", "Directory to analyze")
	analyzeCmd.Flags().StringP("manifest", "m", "", "JSON manifest of path-to-content pairs")
	analyzeCmd.Flags().String("mode", "", "Analysis mode (general, security, architecture, dependencies)")
	analyzeCmd.Flags().Bool("refine", false, "Run refinement passes on the final answer")
	analyzeCmd.Flags().BoolP("trace", "t", false, "Show the session trace")
	analyzeCmd.Flags().BoolP("progress", "p", false, "Show live progress")
	analyzeCmd.Flags().BoolP("stats", "s", false, "Show session statistics")
	rootCmd.AddCommand(analyzeCmd)
}

func loadFiles(dir, manifest string, cfg config.Config) (*fileset.Set, error) {
	switch {
	case manifest != "":
		return fileset.FromManifest(manifest)
	case dir != "":
		return fileset.FromDirectory(dir, fileset.Config{
			MaxFileSize: cfg.MaxFileSize,
			MaxFiles:    cfg.MaxFiles,
		})
	default:
		return nil, fmt.Errorf("either --dir or --manifest is required")
	}
}

func buildEngine(cfg config.Config, doRefine bool) *rlm.Engine {
	client := provider.NewOpenAIClient(provider.OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	})

	engineCfg := rlm.DefaultConfig()
	engineCfg.RootModel = cfg.RootModel
	engineCfg.SubModel = cfg.SubModel
	engineCfg.FallbackModel = cfg.FallbackModel
	engineCfg.MaxTurns = cfg.MaxTurns
	engineCfg.Timeout = cfg.Timeout
	engineCfg.MaxDelegations = cfg.MaxDelegations
	engineCfg.Sandbox.MaxDelegations = cfg.MaxDelegations
	engineCfg.Mode = cfg.Mode
	engineCfg.Temperature = cfg.Temperature
	engineCfg.RefineEnabled = doRefine || cfg.Refine

	return rlm.NewEngine(client, engineCfg)
}

func printSessionDetail(result *rlm.Result, recorder *trace.MemoryRecorder, showTrace, showStats bool) {
	if showStats {
		fmt.Fprintf(os.Stderr, "\nSession statistics:\n")
		fmt.Fprintf(os.Stderr, "  Turns:           %d\n", len(result.Turns))
		fmt.Fprintf(os.Stderr, "  Delegated calls: %d\n", result.Delegations)
		fmt.Fprintf(os.Stderr, "  Duration:        %s\n", result.ExecutionTime.Round(time.Millisecond))
		fmt.Fprintf(os.Stderr, "  Chars saved:     %d (about %d tokens)\n",
			result.TokenSavings.SavedChars, result.TokenSavings.EstimatedTokens)
	}

	if showTrace {
		fmt.Fprintf(os.Stderr, "\n--- Trace ---\n")
		for _, ev := range recorder.Events(100) {
			fmt.Fprintf(os.Stderr, "[turn %d] %-12s %s\n", ev.Turn, ev.Type, truncateStr(ev.Detail, 80))
		}
	}
}

// teeRecorder fans each event out to both recorders.
type teeRecorder struct {
	memory *trace.MemoryRecorder
	sqlite *trace.SQLiteRecorder
}

func (t teeRecorder) Record(event trace.Event) error {
	_ = t.memory.Record(event)
	return t.sqlite.Record(event)
}

func maybePrependStdin(question string) (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return question, nil
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return question, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return question, fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return question, nil
	}
	if question == "" {
		return text, nil
	}
	return text + "\n\n" + question, nil
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
