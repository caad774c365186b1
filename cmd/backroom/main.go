package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"backroom/internal/channel"
	"backroom/internal/config"
	"backroom/internal/domain"
	"backroom/internal/metrics"
	"backroom/internal/render"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "backroom",
		Short:   "Backroom: terminal client for two-channel agent chat",
		Long:    "Backroom talks to a remote agent and splits each reply into the direct conversation and the backroom feed.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.backroom/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(demuxCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadOrDefaults loads the config file, falling back to defaults when it
// does not exist. A file that exists but is invalid is an error.
func loadOrDefaults() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if _, statErr := os.Stat(config.ExpandPath(cfgPath)); errors.Is(statErr, os.ErrNotExist) {
			logger.Warn("config not found, using defaults", "path", cfgPath)
			return config.Defaults(), nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Wrote %s. Set your agent with:\n  backroom config set agent.agentID <id>\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func chatCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, agentID)
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent ID (default: agent.agentID)")
	return cmd
}

func runChat(cmd *cobra.Command, agentID string) error {
	cfg, err := loadOrDefaults()
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := newApp(cfg, agentID)
	if err != nil {
		return err
	}
	if a.session.AgentID() == "" {
		return errors.New("no agent selected: pass --agent or run 'backroom config set agent.agentID <id>'")
	}

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out := cmd.OutOrStdout()
	var view domain.View = channel.NewCLI(channel.CLIConfig{
		Session:  a.session,
		History:  a.history,
		Renderer: render.NewTerminal(out, a.theme, cfg.Render.Color),
		Logger:   logger,
		In:       cmd.InOrStdin(),
		Out:      out,
		Timeout:  time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
		Spinner:  true,
	})
	defer view.Stop()
	return view.Start(ctx)
}

func serveCmd() *cobra.Command {
	var (
		agentID string
		addr    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the two-panel chat in a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaults()
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			a, err := newApp(cfg, agentID)
			if err != nil {
				return err
			}
			if a.session.AgentID() == "" {
				return errors.New("no agent selected: pass --agent or run 'backroom config set agent.agentID <id>'")
			}
			if addr == "" {
				addr = cfg.Web.Addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Metrics.Enabled {
				srv := startMetricsServer(cfg.Metrics)
				defer srv.Close()
			}

			var view domain.View = channel.NewWeb(channel.WebConfig{
				Addr:    addr,
				Session: a.session,
				History: a.history,
				Theme:   a.theme,
				Logger:  logger,
				Timeout: time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
				Version: version,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Backroom web UI on http://%s (Ctrl+C to stop)\n", addr)
			return view.Start(ctx)
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent ID (default: agent.agentID)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: web.addr)")
	return cmd
}

func startMetricsServer(cfg config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Endpoint, metrics.Default.Handler())
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
	logger.Info("metrics enabled", "addr", cfg.Addr, "endpoint", cfg.Endpoint)
	return srv
}

func sendCmd() *cobra.Command {
	var (
		agentID string
		attach  string
		asHTML  bool
	)
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message and print the demultiplexed reply",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaults()
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			a, err := newApp(cfg, agentID)
			if err != nil {
				return err
			}
			if attach != "" {
				if err := a.session.SelectAttachment(attach); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if cfg.Agent.TimeoutSeconds > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Agent.TimeoutSeconds)*time.Second)
				defer cancel()
			}

			replies, err := a.session.Submit(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asHTML {
				h := render.NewHTML(a.theme)
				for _, m := range replies {
					fmt.Fprint(out, h.Message(m))
				}
				return nil
			}
			term := render.NewTerminal(out, a.theme, cfg.Render.Color)
			for _, ch := range []domain.Channel{domain.ChannelDirect, domain.ChannelBackroom} {
				var body strings.Builder
				for _, m := range replies {
					if m.Channel == ch {
						body.WriteString(term.Message(m))
					}
				}
				if body.Len() == 0 {
					continue
				}
				fmt.Fprintln(out, term.Header(ch))
				fmt.Fprint(out, body.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent ID (default: agent.agentID)")
	cmd.Flags().StringVar(&attach, "attach", "", "image file to send with the message")
	cmd.Flags().BoolVar(&asHTML, "html", false, "print the reply as HTML fragments")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. agent.baseURL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaults()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. agent.agentID b850bd6b)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadOrDefaults()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaults()
			if err != nil {
				return err
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				v, _ := json.Marshal(paths[k])
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, v)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
