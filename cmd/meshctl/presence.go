package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/campusmesh/internal/proto"
	"github.com/vovakirdan/campusmesh/internal/signaling"
)

// snapshotListener waits for the first presence snapshot and ignores the rest.
type snapshotListener struct {
	self  chan string
	peers chan []proto.Presence
}

func (l *snapshotListener) RelayOnline(self string) {
	select {
	case l.self <- self:
	default:
	}
}

func (l *snapshotListener) RelayOffline(error) {}

func (l *snapshotListener) Snapshot(peers []proto.Presence) {
	select {
	case l.peers <- peers:
	default:
	}
}

func (l *snapshotListener) PeerJoined(proto.Presence) {}
func (l *snapshotListener) PeerLeft(string) {}
func (l *snapshotListener) Signal(string, string, json.RawMessage) {}

func newPresenceCmd(flags *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Register briefly and print who else is online",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}

			listener := &snapshotListener{self: make(chan string, 1), peers: make(chan []proto.Presence, 1)}
			client := signaling.New(signaling.Options{
				URL:    cfg.Client.RelayURL,
				UserID: cfg.Client.UserID,
				Name:   cfg.Client.Name,
				Token:  cfg.Client.Token,
			}, listener, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			go func() { _ = client.Run(ctx) }()
			defer client.Close()

			var peers []proto.Presence
			select {
			case peers = <-listener.peers:
			case <-ctx.Done():
				return fmt.Errorf("no presence from %s within %s", cfg.Client.RelayURL, timeout)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d peer(s) online\n", len(peers))
			for _, p := range peers {
				fmt.Fprintf(out, "  %s  %-20s %s\n", p.EndpointHandle, p.Name, p.UserID)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the relay")
	return cmd
}
