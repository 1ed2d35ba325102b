package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitae-app/vitae/internal/domain"
	"github.com/vitae-app/vitae/internal/editor"
	"github.com/vitae-app/vitae/internal/guard"
	"github.com/vitae-app/vitae/internal/ipc"
)

// errCompileFailed makes `vitae compile` exit non-zero after printing diagnostics.
var errCompileFailed = errors.New("compilation failed")

var (
	openFlag     bool
	compileFile  string
	historyLimit int
)

// withApp wires the application, runs fn, and releases it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for editor front ends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			handler := ipc.NewHandler(a.service, guard.NewGuard(guard.GuardConfig{
				RateLimitPerMinute: a.cfg.RateLimitPerMinute,
			}), a.feed, a.logger)
			handler.Version = version
			handler.Origins = ipc.NewOriginPolicy(a.cfg.AllowedOrigins)
			handler.TrustedProxies = a.cfg.TrustedProxies

			srv := ipc.NewServer(handler, a.cfg.ListenAddr)

			// Graceful shutdown on interrupt.
			sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			janitor := editor.NewJanitor(a.service, editor.JanitorConfig{})
			janitor.StartMonitoring(sigCtx)
			defer janitor.StopMonitoring()

			go func() {
				<-sigCtx.Done()
				a.logger.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("server shutdown", "error", err)
				}
			}()

			url := ipc.FormatListenURL(a.cfg.ListenAddr)
			a.logger.Info("vitae listening", "url", url, "version", version)
			if !a.service.CompilerAvailable(ctx) {
				a.logger.Warn("compiler not available; compilations will fail", "binary", a.cfg.Compiler.Binary)
			}
			if openFlag {
				openBrowser(url)
			}

			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
	},
}

var newCmd = &cobra.Command{
	Use:   "new <title>",
	Short: "Create a document from the default template",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			doc, err := a.service.CreateDocument(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			docs, err := a.service.ListDocuments(ctx)
			if err != nil {
				return err
			}
			return printDocuments(cmd.OutOrStdout(), docs)
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the source of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			doc, err := a.service.GetDocument(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), doc.Content)
			return err
		})
	},
}

var saveCmd = &cobra.Command{
	Use:   "save <id> <file>",
	Short: "Replace a document's source with a file ('-' reads stdin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readSource(cmd.InOrStdin(), args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.service.SaveDocument(ctx, args[0], content)
		})
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile <id>",
	Short: "Compile a document and print its diagnostics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content string
		if compileFile != "" {
			var err error
			if content, err = readSource(cmd.InOrStdin(), compileFile); err != nil {
				return err
			}
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var (
				res *domain.CompilationResult
				err error
			)
			if compileFile != "" {
				res, err = a.service.SaveAndCompile(ctx, args[0], content)
			} else {
				res, err = a.service.Compile(ctx, args[0])
			}
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			if !res.Success {
				return errCompileFailed
			}
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <id> <dest>",
	Short: "Copy the last compiled PDF of a document to dest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.service.Export(ctx, args[0], args[1])
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document, its history, and its workspace files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.service.DeleteDocument(ctx, args[0])
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show recent compilations of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			recs, err := a.service.History(ctx, args[0], historyLimit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), recs)
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the configured compiler can be started",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			bin := a.cfg.Compiler.Binary
			if !a.service.CompilerAvailable(ctx) {
				return fmt.Errorf("%s (%s runner) is not available", bin, a.cfg.Compiler.Runner)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s runner) is available\n", bin, a.cfg.Compiler.Runner)
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vitae %s (commit=%s, built=%s)\n", version, commit, date)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&openFlag, "open", false, "open the API URL in the default browser")
	compileCmd.Flags().StringVarP(&compileFile, "file", "f", "", "save this file ('-' for stdin) as the source before compiling")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of records to show (0 for all)")
}

// readSource reads path, or r when path is "-".
func readSource(r io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(r)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(data), nil
}
