package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jason-merrell/grok-auto-retry/internal/storage"
	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

func openDurable() (*storage.BadgerArea, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	area, err := storage.OpenBadger(filepath.Join(dataDir, "db"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store at %s: %w", dataDir, err)
	}
	return area, nil
}

func listSessions(cmd *cobra.Command, args []string) error {
	area, err := openDurable()
	if err != nil {
		return err
	}
	defer area.Close()

	keys, err := area.Keys("session/")
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(keys) == 0 {
		fmt.Println("No persisted sessions")
		return nil
	}

	fmt.Printf("%-40s %-8s %-6s %-6s %s\n", "MEDIA ID", "RETRIES", "GOAL", "AUTO", "GROUP")
	for _, key := range keys {
		var state models.PersistentState
		found, err := storage.GetJSON(area, key, &state)
		if err != nil || !found {
			continue
		}
		id := strings.TrimPrefix(key, "session/")
		fmt.Printf("%-40s %-8d %-6d %-6t %d\n",
			id, state.MaxRetries, state.VideoGoal, state.AutoRetryEnabled, len(state.VideoGroup))
	}
	return nil
}

func inspectSession(cmd *cobra.Command, args []string) error {
	area, err := openDurable()
	if err != nil {
		return err
	}
	defer area.Close()

	id := args[0]
	var state models.PersistentState
	found, err := storage.GetJSON(area, "session/"+id, &state)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if !found {
		return fmt.Errorf("no persisted session for media id %q", id)
	}

	fmt.Printf("Media ID:          %s\n", id)
	fmt.Printf("Original media ID: %s\n", state.OriginalMediaID)
	fmt.Printf("Max retries:       %d\n", state.MaxRetries)
	fmt.Printf("Video goal:        %d\n", state.VideoGoal)
	fmt.Printf("Auto retry:        %t\n", state.AutoRetryEnabled)
	fmt.Printf("Last prompt:       %q\n", state.LastPromptValue)
	fmt.Printf("Video group:       %s\n", strings.Join(state.VideoGroup, ", "))
	return nil
}
