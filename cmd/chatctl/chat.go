package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat-relay/internal/client"
	"chat-relay/internal/models"
	"chat-relay/internal/surface"
)

var chatTo string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open a live conversation",
	Long: `Open a live conversation with --to, or the broadcast channel when --to is empty.

Type a line to send it. /reconnect retries after the client has given up,
/sync refetches history and /quit exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatTo, "to", "", "identity to chat with")
}

func runChat(ctx context.Context, in io.Reader, out io.Writer) error {
	ctrl, err := client.NewController(client.Config{
		URL:         websocketURL(serverURL),
		IdentityID:  identityID,
		DisplayName: displayName,
		Role:        role,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	chatID := models.BroadcastChatID
	if chatTo != "" {
		chatID = models.ChatIDFor(identityID, chatTo)
	}
	view := surface.New(client.NewHistoryClient(serverURL, nil), ctrl, logger)
	events, cancel := ctrl.Subscribe(0)
	defer cancel()

	if err := ctrl.Connect(ctx); err != nil {
		fmt.Fprintf(out, "! not connected: %v\n", err)
	}
	if err := view.Open(ctx, chatID); err != nil {
		fmt.Fprintf(out, "! history unavailable: %v\n", err)
	}
	for _, row := range view.View().Rows {
		fmt.Fprintln(out, formatRow(row))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(out, view, ev)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, out, ctrl, view, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, out io.Writer, ctrl *client.Controller, view *surface.Surface, line string) bool {
	switch strings.TrimSpace(line) {
	case "":
		return false
	case "/quit":
		return true
	case "/reconnect":
		if err := ctrl.Reconnect(ctx); err != nil {
			fmt.Fprintf(out, "! reconnect failed: %v\n", err)
		}
		return false
	case "/sync":
		if err := view.Sync(ctx); err != nil {
			fmt.Fprintf(out, "! sync failed: %v\n", err)
		}
		return false
	}
	if _, err := ctrl.Send(chatTo, line); err != nil {
		fmt.Fprintf(out, "! %v\n", err)
	}
	return false
}

func printEvent(out io.Writer, view *surface.Surface, ev client.Event) {
	switch ev.Kind {
	case client.EventMessage:
		if view.Apply(ev.Entry) && !ev.Entry.Pending {
			fmt.Fprintln(out, formatEntry(ev.Entry, identityID))
		}
	case client.EventSendQueued:
		fmt.Fprintf(out, "~ %s\n", ev.Text)
	case client.EventStateChanged:
		logger.Debug("connection state", zap.Stringer("state", ev.State))
		switch view.View().Banner {
		case surface.BannerReconnecting:
			fmt.Fprintf(out, "* reconnecting (%s)\n", ev.State)
		case surface.BannerUnavailable:
			fmt.Fprintln(out, "* connection unavailable, type /reconnect to retry")
		}
	case client.EventPresence, client.EventRoster:
		if ev.Text != "" {
			fmt.Fprintf(out, "* %s (%d online)\n", ev.Text, len(ev.Users))
		}
	case client.EventServerError:
		fmt.Fprintf(out, "! server: %s\n", ev.Text)
	}
}

func formatRow(r surface.Row) string {
	mark := ""
	switch r.Delivery {
	case surface.DeliveryQueued:
		mark = " [queued]"
	case surface.DeliverySent:
		mark = " [sent]"
	}
	name := r.SenderName
	if r.Own {
		name = "me"
	} else if name == "" {
		name = r.SenderID
	}
	return fmt.Sprintf("[%s] %s: %s%s", r.Timestamp.Local().Format("15:04"), name, r.Text, mark)
}

func formatEntry(e client.Entry, self string) string {
	delivery := surface.DeliveryConfirmed
	switch {
	case e.Pending:
		delivery = surface.DeliveryQueued
	case !e.Confirmed:
		delivery = surface.DeliverySent
	}
	return formatRow(surface.Row{
		MessageID:  e.MessageID,
		SenderID:   e.SenderID,
		SenderName: e.SenderName,
		Text:       e.Text,
		Timestamp:  e.Timestamp,
		Own:        e.SenderID == self,
		Delivery:   delivery,
	})
}
