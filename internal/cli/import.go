package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/persona/internal/engine"
	"github.com/lazypower/persona/internal/profile"
)

// seedFile is the YAML layout accepted by `persona import`:
//
//	profiles:
//	  - user_id: alice
//	    name: Coach
//	    category: fitness
//	    goals: [run a 10k]
//	    experience: beginner
//	    style: {formality: 0.3, enthusiasm: 0.8, directness: 0.5, supportiveness: 0.9}
//	    traits: [{name: patient, strength: 0.8}]
//	    memories:
//	      - {type: preference, content: Likes morning runs, importance: 0.7}
type seedFile struct {
	Profiles []seedProfile `yaml:"profiles"`
}

type seedProfile struct {
	UserID       string                   `yaml:"user_id"`
	Name         string                   `yaml:"name"`
	Category     string                   `yaml:"category"`
	Goals        []string                 `yaml:"goals"`
	Preferences  []string                 `yaml:"preferences"`
	Challenges   []string                 `yaml:"challenges"`
	Experience   string                   `yaml:"experience"`
	Frequency    string                   `yaml:"frequency"`
	Notes        string                   `yaml:"notes"`
	Style        *profile.Style           `yaml:"style"`
	Traits       []profile.Trait          `yaml:"traits"`
	CustomFields map[string]profile.Field `yaml:"custom_fields"`
	Memories     []profile.MemoryInput    `yaml:"memories"`
}

// parseSeed decodes a seed file. Unknown keys are rejected so typos do not
// silently drop data.
func parseSeed(r io.Reader) ([]engine.NewProfile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f seedFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty seed file", profile.ErrInvalidInput)
		}
		return nil, fmt.Errorf("%w: decode seed: %v", profile.ErrInvalidInput, err)
	}

	out := make([]engine.NewProfile, 0, len(f.Profiles))
	for _, sp := range f.Profiles {
		np := engine.NewProfile{
			UserID:   sp.UserID,
			Name:     sp.Name,
			Category: sp.Category,
			Data: profile.Data{
				Goals:       sp.Goals,
				Preferences: sp.Preferences,
				Challenges:  sp.Challenges,
				Experience:  profile.Experience(sp.Experience),
				Frequency:   profile.Frequency(sp.Frequency),
				Notes:       sp.Notes,
			},
			Style:        sp.Style,
			Traits:       sp.Traits,
			CustomFields: sp.CustomFields,
		}
		for _, m := range sp.Memories {
			if m.Source == "" {
				m.Source = profile.SourceInterview
			}
			np.Memories = append(np.Memories, m)
		}
		out = append(out, np)
	}
	return out, nil
}

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create profiles from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()

	seeds, err := parseSeed(f)
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	eng := offlineEngine(db)
	out := cmd.OutOrStdout()
	for i, np := range seeds {
		p, err := eng.CreateProfile(cmd.Context(), np)
		if err != nil {
			return fmt.Errorf("profile %d (%q): %w", i+1, np.Name, err)
		}
		fmt.Fprintf(out, "imported %s %s\n", p.ID, p.Name)
	}
	fmt.Fprintf(out, "%d profiles imported\n", len(seeds))
	return nil
}
