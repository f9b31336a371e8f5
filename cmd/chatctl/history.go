package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chat-relay/internal/client"
)

var (
	historyChat  string
	historyLimit int
	historySkip  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print one page of a chat's stored messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyChat == "" {
			return fmt.Errorf("--chat is required")
		}
		hc := client.NewHistoryClient(serverURL, nil)
		msgs, err := hc.Messages(cmd.Context(), historyChat, historyLimit, historySkip)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range msgs {
			fmt.Fprintln(out, formatEntry(client.EntryFromMessage(m), identityID))
		}
		if len(msgs) == 0 {
			fmt.Fprintln(out, "(no messages)")
		}
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List the conversations of --identity, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		hc := client.NewHistoryClient(serverURL, nil)
		convs, err := hc.Conversations(cmd.Context(), identityID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, conv := range convs {
			peer := conv.ChatID
			for _, p := range conv.Participants {
				if p.IdentityID != identityID {
					peer = fmt.Sprintf("%s (%s)", p.DisplayName, p.IdentityID)
				}
			}
			fmt.Fprintf(out, "%s  %s  %s  %q\n", conv.ChatID, conv.LastMessageTime.Local().Format("2006-01-02 15:04"), peer, conv.LastMessage)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyChat, "chat", "", "chat id, e.g. u1_u2")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "page size")
	historyCmd.Flags().IntVar(&historySkip, "skip", 0, "messages to skip from the newest")
}
