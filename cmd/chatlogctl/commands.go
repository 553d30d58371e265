package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/chatlog/internal/history"
	"github.com/matheus3301/chatlog/internal/rpc"
	"github.com/matheus3301/chatlog/internal/session"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			resp, err := c.GetStatus(ctx)
			if err != nil {
				return err
			}
			if g.json {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Session:        %s\n", resp.Session)
			fmt.Printf("Status:         %s\n", resp.Status)
			if resp.PhoneNumber != "" {
				fmt.Printf("Phone:          %s\n", resp.PhoneNumber)
			}
			fmt.Printf("Uptime:         %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
			fmt.Printf("Messages:       %d\n", resp.MessageCount)
			fmt.Printf("Group messages: %d\n", resp.GroupMessageCount)
			fmt.Printf("Contacts:       %d\n", resp.ContactCount)
			fmt.Printf("Live queries:   %d\n", resp.ActiveQueries)
			if !resp.LastHistoryBatch.IsZero() {
				fmt.Printf("Last backfill:  %s\n", resp.LastHistoryBatch.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func newAuthCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Pair the session by scanning a QR code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			stream, err := c.StartAuth(ctx)
			if err != nil {
				return err
			}
			for {
				evt, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				switch evt.Type {
				case "qr_code":
					q, err := qrcode.New(evt.QRCode, qrcode.Low)
					if err != nil {
						return fmt.Errorf("render qr: %w", err)
					}
					fmt.Println(q.ToSmallString(false))
					fmt.Println("Scan with WhatsApp > Linked Devices.")
				case "authenticated":
					fmt.Println("Paired.")
					return nil
				default:
					if evt.Message != "" {
						return fmt.Errorf("%s: %s", evt.Type, evt.Message)
					}
					return errors.New(evt.Type)
				}
			}
		},
	}
}

func newLogoutCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unpair the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			resp, err := c.Logout(ctx)
			if err != nil {
				return err
			}
			if g.json {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Success: %v - %s\n", resp.Success, resp.Message)
			return nil
		},
	}
}

func newSessionsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			infos, err := session.List()
			if err != nil {
				return err
			}
			if g.json {
				outputJSON(infos)
				return nil
			}
			if len(infos) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			for _, s := range infos {
				state := "empty"
				if s.HasHistory {
					state = "history"
				}
				fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, state)
			}
			return nil
		},
	}
}

// conversationFlags selects one conversation on the command line.
type conversationFlags struct {
	address string
	contact string
	room    string
}

func (f *conversationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.address, "address", "", "peer address (JID or phone number)")
	cmd.Flags().StringVar(&f.contact, "contact", "", "meta-contact id")
	cmd.Flags().StringVar(&f.room, "room", "", "room id")
	cmd.MarkFlagsMutuallyExclusive("address", "contact", "room")
	cmd.MarkFlagsOneRequired("address", "contact", "room")
}

func (f *conversationFlags) conversation(localID string) rpc.Conversation {
	return rpc.Conversation{LocalID: localID, Address: f.address, MetaContactID: f.contact, RoomID: f.room}
}

func newLastCommand(g *globals) *cobra.Command {
	var (
		conv    conversationFlags
		n       int
		keyword string
		since   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "last",
		Short: "Print the latest events of a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			localID, err := g.localID(ctx, c)
			if err != nil {
				return err
			}
			req := &rpc.FindRequest{Mode: rpc.FindLast, Conversation: conv.conversation(localID), N: n}
			switch {
			case keyword != "":
				req.Mode = rpc.FindKeyword
				req.Keyword = keyword
			case since > 0:
				req.Mode = rpc.FindPeriod
				req.End = time.Now()
				req.Start = req.End.Add(-since)
			}

			resp, err := c.Find(ctx, req)
			if err != nil {
				return err
			}
			if g.json {
				outputJSON(resp)
				return nil
			}
			for _, ev := range resp.Events {
				printEvent(ev)
			}
			return nil
		},
	}

	conv.register(cmd)
	cmd.Flags().IntVarP(&n, "count", "n", 20, "number of events")
	cmd.Flags().StringVar(&keyword, "keyword", "", "only events whose body contains keyword")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this duration")
	cmd.MarkFlagsMutuallyExclusive("keyword", "since")
	return cmd
}

func newSearchCommand(g *globals) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Find the latest matching event in every conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			resp, err := c.FindLastForAll(ctx, &rpc.FindLastForAllRequest{Keyword: args[0], N: n})
			if err != nil {
				return err
			}
			if g.json {
				outputJSON(resp)
				return nil
			}
			for _, act := range resp.Activities {
				printActivity(act)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "count", "n", 50, "maximum conversations")
	return cmd
}

func newRecentCommand(g *globals) *cobra.Command {
	var (
		limit   int
		keyword string
		follow  bool
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recently active conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			stream, err := c.WatchRecent(ctx, &rpc.WatchRecentRequest{Keyword: keyword, Limit: limit})
			if err != nil {
				return err
			}
			for {
				upd, err := stream.Recv()
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return err
				}
				if g.json {
					outputJSON(upd)
				} else {
					if upd.Type != rpc.UpdateSnapshot {
						fmt.Printf("-- %s\n", upd.Type)
					}
					for _, act := range upd.Activities {
						printActivity(act)
					}
				}
				if !follow {
					return nil
				}
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum conversations (default: daemon setting)")
	cmd.Flags().StringVar(&keyword, "keyword", "", "only conversations with a matching event")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing updates")
	return cmd
}

func newMarkReadCommand(g *globals) *cobra.Command {
	var (
		ref    rpc.Ref
		unread bool
	)

	cmd := &cobra.Command{
		Use:   "mark-read <msg-id>",
		Short: "Set the read flag of a stored event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			if ref.LocalID, err = g.localID(ctx, c); err != nil {
				return err
			}
			ref.MsgID = args[0]
			return c.MarkRead(ctx, &rpc.MarkReadRequest{Ref: ref, Read: !unread})
		},
	}

	cmd.Flags().StringVar(&ref.PeerID, "peer", "", "peer address of a one-to-one event")
	cmd.Flags().StringVar(&ref.RoomID, "room", "", "room id of a group event")
	cmd.Flags().BoolVar(&unread, "unread", false, "clear the flag instead")
	cmd.MarkFlagsMutuallyExclusive("peer", "room")
	cmd.MarkFlagsOneRequired("peer", "room")
	return cmd
}

func newRecordSMSCommand(g *globals) *cobra.Command {
	var (
		peer     string
		outgoing bool
		failed   bool
		msgID    string
	)

	cmd := &cobra.Command{
		Use:   "send-sms-record <body>",
		Short: "Store an SMS exchanged outside WhatsApp in the history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			localID, err := g.localID(ctx, c)
			if err != nil {
				return err
			}
			now := time.Now()
			if msgID == "" {
				msgID = fmt.Sprintf("sms-%d", now.UnixMilli())
			}
			dir := history.Incoming
			if outgoing {
				dir = history.Outgoing
			}
			ev := rpc.Event{
				Kind:      rpc.EventMessage,
				LocalID:   localID,
				PeerID:    peer,
				Direction: string(dir),
				Body:      strings.Join(args, " "),
				MsgID:     msgID,
				Timestamp: now,
				Read:      outgoing,
				Type:      string(history.TypeSMS),
			}
			if err := c.WriteMessage(ctx, &rpc.WriteMessageRequest{Event: ev, DeliveryFailed: failed}); err != nil {
				return err
			}
			fmt.Println(msgID)
			return nil
		},
	}

	cmd.Flags().StringVar(&peer, "peer", "", "peer phone number")
	cmd.Flags().BoolVar(&outgoing, "out", false, "message was sent by the local account")
	cmd.Flags().BoolVar(&failed, "failed", false, "delivery failed")
	cmd.Flags().StringVar(&msgID, "id", "", "message id (default: generated)")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

func newSendCommand(g *globals) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a WhatsApp text message and record it in the history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			resp, err := c.SendText(ctx, &rpc.SendTextRequest{To: to, Text: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			if g.json {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Queued %s\n", resp.Ref.MsgID)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "recipient JID or phone number")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func printEvent(ev rpc.Event) {
	who := ev.PeerName
	if ev.Kind == rpc.EventGroup {
		who = ev.SenderID
	}
	if who == "" {
		who = ev.PeerID
	}
	if ev.Direction == string(history.Outgoing) {
		who = "me"
	}
	flags := ""
	if ev.Failed {
		flags += " [failed]"
	}
	if !ev.Read && ev.Direction != string(history.Outgoing) {
		flags += " [unread]"
	}
	fmt.Printf("%s  %-24s %s%s\n", ev.Timestamp.Local().Format(time.DateTime), who, ev.Body, flags)
}

func printActivity(act rpc.Activity) {
	title := act.Event.Subject
	if title == "" {
		title = act.Event.PeerName
	}
	if title == "" {
		title = act.KeyID
	}
	fmt.Printf("%s  %-7s %-28s %s\n", act.Event.Timestamp.Local().Format(time.DateTime), act.KeyKind, title, act.Event.Body)
}
