package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yangwenmai/gitpodcast/internal/backend"
	"github.com/yangwenmai/gitpodcast/internal/cache"
	"github.com/yangwenmai/gitpodcast/internal/config"
	"github.com/yangwenmai/gitpodcast/internal/model"
	"github.com/yangwenmai/gitpodcast/internal/podcast"
	"github.com/yangwenmai/gitpodcast/internal/store"
)

// app holds the flag values and the orchestrator built from them.
type app struct {
	dbPath     string
	ephemeral  bool
	backendURL string
	timeout    time.Duration
	stub       bool
	apiKey     string
	debug      bool

	orch *podcast.Orchestrator
	db   *sql.DB
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "gitpodcast",
		Short:         "Generate diagrams and narrated audio for GitHub repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite cache file (default: $DB_DRIVER store at $DB_PATH or $DATABASE_URL)")
	root.PersistentFlags().BoolVar(&a.ephemeral, "ephemeral", false, "use an in-memory cache that is discarded on exit")
	root.PersistentFlags().StringVar(&a.backendURL, "backend-url", "", "generation backend URL (default $API_DEV_URL)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "backend call timeout (default $HTTP_TIMEOUT)")
	root.PersistentFlags().BoolVar(&a.stub, "stub", false, "use the offline stub backend")
	root.PersistentFlags().StringVar(&a.apiKey, "api-key", "", "user API key forwarded to the backend")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		a.generateCmd(),
		a.modifyCmd(),
		a.costCmd(),
		a.audioCmd(),
		a.cachedCmd(),
	)
	return root, a
}

// execute runs root and closes the store whether or not the command failed.
func (a *app) execute(root *cobra.Command) (err error) {
	defer func() {
		if cerr := a.close(); err == nil {
			err = cerr
		}
	}()
	return root.Execute()
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// setup resolves configuration and wires the store, backend and orchestrator.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := log.InfoLevel
	if a.debug {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           level,
	})
	logger := slog.New(handler).With("run_id", uuid.NewString())

	kv, err := a.openStore(cfg)
	if err != nil {
		return err
	}

	var gen backend.Generator = &backend.Stub{}
	if !a.stub && !cfg.StubBackend {
		url := cfg.BackendURL
		if a.backendURL != "" {
			url = a.backendURL
		}
		timeout := cfg.HTTPTimeout
		if a.timeout > 0 {
			timeout = a.timeout
		}
		gen = backend.NewClient(backend.WithBaseURL(url), backend.WithTimeout(timeout))
		logger.Debug("using generation backend", "url", url, "timeout", timeout.String())
	}

	a.orch = podcast.New(cache.New(kv), gen,
		podcast.WithAudioTrust(cfg.AudioCacheTrust),
		podcast.WithLogger(logger),
	)
	return nil
}

// openStore picks the cache: in-memory with --ephemeral, the SQLite file
// named by --db, otherwise the store configured in the environment.
func (a *app) openStore(cfg config.Config) (store.KV, error) {
	if a.ephemeral {
		return store.NewMemory(), nil
	}
	dialect, source := store.Dialect(cfg.DBDriver), cfg.DBSource()
	if a.dbPath != "" {
		dialect, source = store.DialectSQLite, a.dbPath
	}
	s, db, err := store.Open(dialect, source)
	if err != nil {
		return nil, err
	}
	a.db = db
	return s, nil
}

// request builds a GenerationRequest from an owner/repo or GitHub URL argument.
func (a *app) request(arg string) (model.GenerationRequest, error) {
	ref, err := model.ParseRepoRef(arg)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	return model.GenerationRequest{Owner: ref.Owner, Repo: ref.Repo, APIKey: a.apiKey}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// failed turns a Failure into the command's error.
func failed(f *podcast.Failure) error {
	if f.RequiresAPIKey {
		return fmt.Errorf("%s (pass --api-key)", f.Message)
	}
	return errors.New(f.Message)
}

func (a *app) generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate OWNER/REPO",
		Short: "Generate a diagram and explanation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.request(args[0])
			if err != nil {
				return err
			}
			res := a.orch.FetchDiagram(cmd.Context(), req)
			if !res.OK() {
				return failed(res.Failure)
			}
			return printJSON(cmd.OutOrStdout(), res.Value)
		},
	}
}

func (a *app) modifyCmd() *cobra.Command {
	var instructions string
	cmd := &cobra.Command{
		Use:   "modify OWNER/REPO",
		Short: "Modify the cached diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.request(args[0])
			if err != nil {
				return err
			}
			req.Instructions = instructions
			res := a.orch.ModifyDiagram(cmd.Context(), req)
			if !res.OK() {
				return failed(res.Failure)
			}
			return printJSON(cmd.OutOrStdout(), res.Value)
		},
	}
	cmd.Flags().StringVarP(&instructions, "instructions", "i", "", "how to change the diagram")
	_ = cmd.MarkFlagRequired("instructions")
	return cmd
}

func (a *app) costCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cost OWNER/REPO",
		Short: "Estimate the cost of generating a diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.request(args[0])
			if err != nil {
				return err
			}
			res := a.orch.EstimateCost(cmd.Context(), req)
			if !res.OK() {
				return failed(res.Failure)
			}
			return printJSON(cmd.OutOrStdout(), res.Value)
		},
	}
}

func (a *app) audioCmd() *cobra.Command {
	var length, out string
	cmd := &cobra.Command{
		Use:   "audio OWNER/REPO",
		Short: "Fetch narrated audio and subtitles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.request(args[0])
			if err != nil {
				return err
			}
			if req.AudioLength, err = model.ParseAudioLength(length); err != nil {
				return err
			}
			res := a.orch.FetchAudio(cmd.Context(), req)
			if !res.OK() {
				return failed(res.Failure)
			}
			if out == "" {
				out = req.Owner + "-" + req.Repo + "-" + string(req.AudioLength)
			}
			if err := os.WriteFile(out+".mp3", res.Value.Audio, 0o644); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
			if err := os.WriteFile(out+".vtt", []byte(res.Value.Subtitles), 0o644); err != nil {
				return fmt.Errorf("write subtitles: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s.mp3 (%d bytes) and %s.vtt\n", out, len(res.Value.Audio), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&length, "length", "l", string(model.AudioShort), "audio length: short or long")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path prefix (default OWNER-REPO-LENGTH)")
	return cmd
}

func (a *app) cachedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cached OWNER/REPO",
		Short: "Print the cached diagram without calling the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.request(args[0])
			if err != nil {
				return err
			}
			res := a.orch.CachedDiagram(cmd.Context(), req.Owner, req.Repo)
			if !res.OK() {
				return failed(res.Failure)
			}
			return printJSON(cmd.OutOrStdout(), res.Value)
		},
	}
}
