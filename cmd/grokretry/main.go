package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	dataDir    string
	mediaID    string
	prompt     string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "grokretry",
		Short: "grokretry - auto-retry engine for moderated video generations",
		Long: `grokretry fronts the video generation site through a local observation
proxy, reconstructs generation progress from the network stream, and
automatically resubmits generations rejected by moderation until the
retry budget runs out or the video goal is met.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the observation proxy and retry engine",
		Long: `Run the full pipeline:
1. Front the origin through a local reverse proxy
2. Reconstruct parent sessions and video attempts from intercepted traffic
3. Correlate moderation and completion signals
4. Drive the retry session until the budget or goal is reached`,
		RunE: runEngine,
	}
	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Directory for durable session state")
	runCmd.Flags().StringVar(&mediaID, "media-id", "", "Media id to attach to (generated when empty)")
	runCmd.Flags().StringVar(&prompt, "prompt", "", "Prompt to submit when starting a session")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	replayCmd := &cobra.Command{
		Use:   "replay <capture-file>",
		Short: "Replay a captured conversation stream",
		Long: `Feed a previously captured response body through the stream scanner
and print the reconstructed parent sessions and attempts. Useful for
checking endpoint patterns and wire shapes against a fresh capture.`,
		Args: cobra.ExactArgs(1),
		RunE: replayCapture,
	}
	replayCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage persisted retry sessions",
		Long:  "Inspect the durable session state left behind by previous runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all persisted sessions",
		RunE:  listSessions,
	}
	listCmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Directory for durable session state")

	inspectCmd := &cobra.Command{
		Use:   "inspect <media-id>",
		Short: "Show the persisted state of one session",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectSession,
	}
	inspectCmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Directory for durable session state")

	sessionsCmd.AddCommand(listCmd)
	sessionsCmd.AddCommand(inspectCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".grokretry"
	}
	return home + "/.grokretry"
}
