package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/persona/internal/profile"
)

// --- profile command ---

var (
	profileUser    string
	profileVerbose bool
)

var profileCmd = &cobra.Command{
	Use:   "profile [id]",
	Short: "List profiles or show one",
	Long:  "With no argument, lists profiles (optionally for one --user). With an id, shows the profile's data, style and memories.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProfile,
}

func runProfile(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		profiles, err := db.ListProfiles(ctx, profileUser)
		if err != nil {
			return fmt.Errorf("list profiles: %w", err)
		}
		if len(profiles) == 0 {
			fmt.Fprintln(out, "No profiles found.")
			return nil
		}
		for _, p := range profiles {
			fmt.Fprintf(out, "%s  %-20s %-15s user=%s memories=%d\n", p.ID, p.Name, p.Category, p.UserID, len(p.Memories))
		}
		return nil
	}

	p, err := db.LoadProfile(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	printProfile(out, p, profileVerbose)
	return nil
}

func printProfile(out io.Writer, p *profile.Profile, verbose bool) {
	fmt.Fprintf(out, "## %s (%s)\n\n", p.Name, p.ID)
	fmt.Fprintf(out, "user:       %s\n", p.UserID)
	if p.Category != "" {
		fmt.Fprintf(out, "category:   %s\n", p.Category)
	}
	fmt.Fprintf(out, "goals:      %s\n", strings.Join(p.Data.Goals, "; "))
	fmt.Fprintf(out, "prefers:    %s\n", strings.Join(p.Data.Preferences, "; "))
	fmt.Fprintf(out, "challenges: %s\n", strings.Join(p.Data.Challenges, "; "))
	if p.Data.Experience != "" {
		fmt.Fprintf(out, "experience: %s\n", p.Data.Experience)
	}
	if p.Data.Frequency != "" {
		fmt.Fprintf(out, "frequency:  %s\n", p.Data.Frequency)
	}

	s := p.Style()
	fmt.Fprintf(out, "\nstyle: formality %.2f, enthusiasm %.2f, directness %.2f, supportiveness %.2f\n",
		s.Formality, s.Enthusiasm, s.Directness, s.Supportiveness)
	fmt.Fprintf(out, "stats: %d conversations, %d messages, avg session %.1f min, satisfaction %.2f\n",
		p.Stats.TotalConversations, p.Stats.TotalMessages, p.Stats.AverageSessionLength, p.Stats.SatisfactionScore)

	if len(p.Memories) > 0 {
		fmt.Fprintf(out, "\n## Memories (%d)\n", len(p.Memories))
		for _, m := range p.Memories {
			fmt.Fprintf(out, "- [%s %.1f] %s\n", m.Type, m.Importance, m.Content)
		}
	}

	if verbose && len(p.CustomFields) > 0 {
		fmt.Fprintln(out, "\n## Fields")
		for _, k := range slices.Sorted(maps.Keys(p.CustomFields)) {
			f := p.CustomFields[k]
			fmt.Fprintf(out, "- %s (%s): %s\n", k, f.Type, f.Value)
		}
	}

	if verbose && len(p.Personality.EvolutionHistory) > 0 {
		fmt.Fprintln(out, "\n## Evolution")
		for _, ev := range p.Personality.EvolutionHistory {
			fmt.Fprintf(out, "- %s %s", ev.Timestamp.Format("2006-01-02 15:04"), ev.Change)
			if ev.Reason != "" {
				fmt.Fprintf(out, " (%s)", ev.Reason)
			}
			fmt.Fprintln(out)
		}
	}
}

// --- recall command ---

var recallLimit int

var recallCmd = &cobra.Command{
	Use:   "recall <profile-id> <query>",
	Short: "Search a profile's memories",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRecall,
}

func runRecall(cmd *cobra.Command, args []string) error {
	query := strings.Join(args[1:], " ")

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	results, err := offlineEngine(db).Recall(cmd.Context(), args[0], query, recallLimit)
	if err != nil {
		return fmt.Errorf("recall: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, r.Score, r.Content)
		fmt.Fprintf(out, "   %s, importance %.2f, referenced %d times\n", r.Type, r.Importance, r.ReferenceCount)
	}
	return nil
}

// --- sweep command ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Normalize every stored profile once",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	res, err := offlineEngine(db).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "scanned %d profiles, repaired %d, failed %d\n", res.Scanned, res.Repaired, res.Failed)
	return nil
}

func init() {
	profileCmd.Flags().StringVarP(&profileUser, "user", "u", "", "Only list profiles owned by this user")
	profileCmd.Flags().BoolVar(&profileVerbose, "verbose", false, "Also show custom fields and the style evolution history")

	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", profile.DefaultRecallLimit, "Maximum number of results")
}
