package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/openhab/cloud-tunnelgw/internal/cmdutil"
	"github.com/openhab/cloud-tunnelgw/server"
)

var sessionsCommand = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions attached to a tunnelgw node",
	RunE:  sessionsMain,
}

var (
	sessionsJSON  bool
	sessionsOut   string
	sessionsForce bool
)

func init() {
	flags := sessionsCommand.Flags()
	flags.BoolVar(&sessionsJSON, "json", false, "print the raw JSON snapshot instead of a table")
	flags.StringVar(&sessionsOut, "out", "", "write the JSON snapshot to this file instead of stdout")
	flags.BoolVar(&sessionsForce, "force", false, "overwrite --out if it already exists")
}

func sessionsMain(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/admin/sessions", adminAddr))
	if err != nil {
		return fmt.Errorf("tunnelgwctl: contacting %s: %w", adminAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tunnelgwctl: %s returned %s", adminAddr, resp.Status)
	}

	var sessions []server.SessionSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return fmt.Errorf("tunnelgwctl: decoding response: %w", err)
	}

	if sessionsOut != "" {
		if err := cmdutil.RefuseOverwrite(sessionsOut, sessionsForce); err != nil {
			return err
		}
		f, err := os.Create(sessionsOut)
		if err != nil {
			return fmt.Errorf("tunnelgwctl: creating %s: %w", sessionsOut, err)
		}
		defer f.Close()
		return cmdutil.WriteJSON(f, sessions, true)
	}

	if sessionsJSON {
		return cmdutil.WriteJSON(os.Stdout, sessions, true)
	}

	printSessions(sessions)
	return nil
}

// colorEnabled matches the teacher's own TTY check: colorize table output only when
// stdout is an actual terminal, never when piped to a file or another process.
func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func stateColor(state string) func(format string, a ...interface{}) string {
	switch state {
	case "READY":
		return color.GreenString
	case "DEGRADED", "LOCK_PENDING", "AUTHENTICATING":
		return color.YellowString
	case "CLOSED":
		return color.RedString
	default:
		return color.WhiteString
	}
}

func printSessions(sessions []server.SessionSnapshot) {
	if len(sessions) == 0 {
		fmt.Println("no sessions attached")
		return
	}

	colored := colorEnabled()
	fmt.Printf("%-36s  %-10s  %-22s  %-6s  %-4s  %s\n", "SITE", "STATE", "NODE", "INFLT", "WS", "LOCK AGE")
	for _, s := range sessions {
		state := s.State
		if colored {
			state = stateColor(s.State)("%s", s.State)
		}
		age := "-"
		if !s.GrantedAt.IsZero() {
			age = humanize.Time(s.GrantedAt)
		}
		node := s.NodeAddress
		if node == "" {
			node = "-"
		}
		fmt.Printf("%-36s  %-10s  %-22s  %-6d  %-4d  %s\n", s.SiteID, state, node, s.InFlight, s.WebSockets, age)
	}
}
