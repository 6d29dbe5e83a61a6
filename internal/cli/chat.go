package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var chatURL string

var chatCmd = &cobra.Command{
	Use:   "chat <profile-id>",
	Short: "Talk to a persona through a running server",
	Long: `Starts a new conversation with the persona and reads messages from stdin,
one per line. "/interview" asks the persona for its next setup question,
"/extract" shows what it has learned from this conversation and "/quit" ends
the session.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(chatURL)
		if !c.healthy(cmd.Context()) {
			return fmt.Errorf("no persona server at %s (start one with `persona serve`)", c.serverURL)
		}
		return chatSession(cmd.Context(), c, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatURL, "url", "", "Server URL (default $PERSONA_URL or the configured listen address)")
}

type chatReply struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Fallback bool `json:"fallback"`
}

// chatSession runs one conversation against the server until in is
// exhausted or the user types /quit.
func chatSession(ctx context.Context, c *apiClient, profileID string, in io.Reader, out io.Writer) error {
	var started struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/api/profiles/"+profileID+"/chats", nil, &started); err != nil {
		return fmt.Errorf("start chat: %w", err)
	}
	fmt.Fprintf(out, "chat %s started, /quit to leave\n", started.ID)

	base := "/api/chats/" + started.ID
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())

		var err error
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/interview":
			var r chatReply
			if err = c.post(ctx, base+"/interview", nil, &r); err == nil {
				printReply(out, r)
			}
		case "/extract":
			var r struct {
				Extraction struct {
					Name        string   `json:"name"`
					Category    string   `json:"category"`
					Source      string   `json:"source"`
					ProfileData struct {
						Goals       []string `json:"goals"`
						Preferences []string `json:"preferences"`
						Challenges  []string `json:"challenges"`
					} `json:"profile_data"`
				} `json:"extraction"`
			}
			if err = c.post(ctx, base+"/extract", nil, &r); err == nil {
				x := r.Extraction
				fmt.Fprintf(out, "name: %s, category: %s (%s)\n", x.Name, x.Category, x.Source)
				fmt.Fprintf(out, "goals: %s\n", strings.Join(x.ProfileData.Goals, "; "))
				fmt.Fprintf(out, "preferences: %s\n", strings.Join(x.ProfileData.Preferences, "; "))
				fmt.Fprintf(out, "challenges: %s\n", strings.Join(x.ProfileData.Challenges, "; "))
			}
		default:
			var r chatReply
			if err = c.post(ctx, base+"/messages", map[string]string{"content": line}, &r); err == nil {
				printReply(out, r)
			}
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func printReply(out io.Writer, r chatReply) {
	if r.Fallback {
		fmt.Fprintf(out, "%s (offline)\n", r.Message.Content)
		return
	}
	fmt.Fprintln(out, r.Message.Content)
}
