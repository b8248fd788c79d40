package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jason-merrell/grok-auto-retry/internal/eventstore"
	"github.com/jason-merrell/grok-auto-retry/internal/intercept"
	"github.com/jason-merrell/grok-auto-retry/internal/util"
)

func replayCapture(cmd *cobra.Command, args []string) error {
	capturePath := args[0]

	f, err := os.Open(capturePath)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat capture: %w", err)
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	store := eventstore.New()
	proc := intercept.NewProcessor(store, logger)
	scanner := intercept.NewObjectScanner()

	bar := progressbar.DefaultBytes(info.Size(), "replaying")
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			scanner.Feed(buf[:n], proc.HandleConversationObject)
			_ = bar.Add(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read capture: %w", err)
		}
	}
	_ = bar.Finish()

	if scanner.Pending() {
		fmt.Fprintln(os.Stderr, "warning: capture ended inside an object, tail discarded")
	}

	printSnapshot(store.Snapshot())
	return nil
}

func printSnapshot(snap eventstore.Snapshot) {
	fmt.Printf("\nReconstructed %d parent session(s), %d attempt(s), store version %d\n\n",
		len(snap.Parents), len(snap.Videos), snap.Version)

	parentIDs := make([]string, 0, len(snap.Parents))
	for id := range snap.Parents {
		parentIDs = append(parentIDs, id)
	}
	sort.Strings(parentIDs)

	for _, id := range parentIDs {
		parent := snap.Parents[id]
		fmt.Printf("parent %s  %q\n", id, util.TruncateString(parent.PromptText, 60))
		for _, attemptID := range parent.AttemptIDs {
			attempt, ok := snap.Videos[attemptID]
			if !ok {
				continue
			}
			fmt.Printf("  attempt %-24s %3d%%  %s\n",
				attempt.AttemptID, attempt.Progress, attempt.Status())
		}
	}

	var orphans []string
	for id, attempt := range snap.Videos {
		if attempt.ParentID == "" {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		fmt.Printf("\n%d attempt(s) with no parent: %v\n", len(orphans), orphans)
	}
}
