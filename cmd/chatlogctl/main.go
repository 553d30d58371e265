package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/chatlog/internal/rpc"
	"github.com/matheus3301/chatlog/internal/session"
	"github.com/spf13/cobra"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	session string
	account string
	json    bool
	timeout time.Duration
}

func newRootCommand() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "chatlogctl",
		Short:         "Inspect and query a chatlog daemon",
		Example:       "chatlogctl --session work last --address 5511988887777@s.whatsapp.net -n 20",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.session, "session", "", "session name (overrides config default)")
	cmd.PersistentFlags().StringVar(&g.account, "account", "", "local account id (default: the paired account)")
	cmd.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "timeout for unary calls")

	cmd.AddCommand(
		newStatusCommand(g),
		newAuthCommand(g),
		newLogoutCommand(g),
		newSessionsCommand(g),
		newLastCommand(g),
		newSearchCommand(g),
		newRecentCommand(g),
		newMarkReadCommand(g),
		newRecordSMSCommand(g),
		newSendCommand(g),
	)

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dial connects to the daemon of the selected session.
func (g *globals) dial() (*rpc.Client, string, error) {
	name, err := session.Resolve(g.session, "")
	if err != nil {
		return nil, "", err
	}
	c, err := rpc.Dial(session.SocketPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, name, nil
}

// localID returns the account the history is keyed by: the --account flag,
// else the paired phone number.
func (g *globals) localID(ctx context.Context, c *rpc.Client) (string, error) {
	if g.account != "" {
		return g.account, nil
	}
	st, err := c.GetStatus(ctx)
	if err != nil {
		return "", err
	}
	if st.PhoneNumber == "" {
		return "local", nil
	}
	return st.PhoneNumber + "@s.whatsapp.net", nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
