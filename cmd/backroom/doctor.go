package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"backroom/internal/config"
	"backroom/internal/dispatch"
	"backroom/internal/render"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Backroom setup",
		Long: `Verifies that Backroom's configuration, agent endpoint, theme, and
log file are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("Backroom Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'backroom init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Agent selected
			if cfg.Agent.AgentID == "" {
				printWarn("Agent", "agent.agentID not set; pass --agent to chat and send")
				warned++
			} else {
				printPass("Agent", cfg.Agent.AgentID)
				passed++
			}

			// 4. Agent server reachable
			if err := checkEndpoint(cmd.Context(), cfg.Agent.BaseURL); err != nil {
				printFail("Agent server", err.Error())
				failed++
			} else {
				printPass("Agent server", cfg.Agent.BaseURL)
				passed++
			}

			// 5. Theme loads
			if cfg.Render.ThemeFile != "" {
				if theme, err := render.LoadTheme(cfg.Render.ThemeFile); err != nil {
					printFail("Theme", err.Error())
					failed++
				} else {
					printPass("Theme", fmt.Sprintf("%s (%d speakers)", cfg.Render.ThemeFile, len(theme.Speakers)))
					passed++
				}
			}

			// 6. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkPort(cfg.Metrics.Addr); err != nil {
					printWarn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
					warned++
				} else {
					printPass("Metrics addr", cfg.Metrics.Addr+" available")
					passed++
				}
			}

			// 7. Check log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(dirOf(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running Backroom.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nBackroom should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Backroom is ready to run.\n")
			}
			return nil
		},
	}
}

// checkEndpoint reports whether anything answers HTTP at baseURL. Any
// status code counts; only transport failures are errors.
func checkEndpoint(ctx context.Context, baseURL string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return fmt.Errorf("bad URL: %w", err)
	}
	resp, err := dispatch.NewHTTPClient().Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("no answer within 5s")
		}
		return fmt.Errorf("unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
