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

	"github.com/vovakirdan/campusmesh/internal/cache"
	"github.com/vovakirdan/campusmesh/internal/cache/sqlite"
	"github.com/vovakirdan/campusmesh/internal/mesh"
	"github.com/vovakirdan/campusmesh/internal/node"
	"github.com/vovakirdan/campusmesh/internal/proto"
)

const joinHelp = `Commands:
  /peers                          list relay presence and session states
  /connect <handle>               open a direct link
  /disconnect <handle>            close a direct link
  /to <handle> <text>             message one peer
  /meetup <handle> <place> <time> propose a meetup
  /history                        show cached messages
  /cached                         show cached peer identities
  /quit                           leave the mesh
Anything else is sent to every connected peer.`

func newJoinCmd(flags *rootFlags) *cobra.Command {
	var (
		acceptMeetups bool
		cachePath     string
		loopback      bool
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the mesh and chat interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cachePath != "" {
				cfg.Client.CachePath = cachePath
			}
			if loopback {
				cfg.Client.IncludeLoopback = true
			}

			store, err := sqlite.New(cfg.Client.CachePath)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			n, err := node.New(cfg.Client, store, logger,
				node.WithMeetupDecider(func(string, *proto.Envelope) bool { return acceptMeetups }),
				node.WithHooks(printHooks(out)),
			)
			if err != nil {
				return err
			}
			watch(n.Manager(), out)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- n.Run(ctx) }()

			fmt.Fprintf(out, "Joining %s as %s (%s)\n%s\n", cfg.Client.RelayURL, cfg.Client.Name, cfg.Client.UserID, joinHelp)
			prompt(ctx, n, cmd.InOrStdin(), out)

			cancel()
			return <-done
		},
	}
	cmd.Flags().BoolVar(&acceptMeetups, "accept-meetups", false, "accept incoming meetup requests automatically")
	cmd.Flags().StringVar(&cachePath, "cache", "", "local cache database path")
	cmd.Flags().BoolVar(&loopback, "loopback", false, "gather loopback ICE candidates (same-host testing)")
	return cmd
}

func printHooks(out io.Writer) node.Hooks {
	return node.Hooks{
		Chat: func(handle, sender, text string) {
			fmt.Fprintf(out, "[%s] %s: %s\n", short(handle), sender, text)
		},
		MeetupRequest: func(handle string, m cache.Meetup) {
			fmt.Fprintf(out, "[%s] %s proposes meeting at %s, %s\n", short(handle), m.PeerName, m.Location, m.Time)
		},
		MeetupResponse: func(handle, from string, accepted bool) {
			verdict := "declined"
			if accepted {
				verdict = "accepted"
			}
			fmt.Fprintf(out, "[%s] %s %s your meetup\n", short(handle), from, verdict)
		},
		PeerIdentified: func(handle string, id mesh.Identity) {
			fmt.Fprintf(out, "[%s] is %s (%s)\n", short(handle), id.Name, id.UserID)
		},
	}
}

func watch(mgr *mesh.Manager, out io.Writer) {
	mgr.OnRelayState(func(online bool) {
		if online {
			fmt.Fprintf(out, "* relay online as %s\n", mgr.SelfHandle())
			return
		}
		fmt.Fprintln(out, "* relay offline, direct links stay up")
	})
	mgr.OnPresence(func(ev mesh.PresenceEvent) {
		switch ev.Kind {
		case mesh.PresenceSnapshot:
			fmt.Fprintf(out, "* %d peer(s) online\n", len(ev.Peers))
		case mesh.PresenceJoined:
			fmt.Fprintf(out, "* %s joined as %s\n", ev.Peer.Name, ev.Peer.EndpointHandle)
		case mesh.PresenceLeft:
			fmt.Fprintf(out, "* %s left\n", ev.Handle)
		}
	})
	mgr.OnStateChange(func(ch mesh.StateChange) {
		if ch.Err != nil {
			fmt.Fprintf(out, "* link %s %s: %v\n", short(ch.Handle), ch.State, ch.Err)
			return
		}
		fmt.Fprintf(out, "* link %s %s\n", short(ch.Handle), ch.State)
	})
}

func prompt(ctx context.Context, n *node.Node, in io.Reader, out io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := execute(ctx, n, strings.TrimSpace(line), out); quit {
				return
			}
		}
	}
}

// execute runs one prompt line and reports whether the user asked to quit.
func execute(ctx context.Context, n *node.Node, line string, out io.Writer) bool {
	if line == "" {
		return false
	}
	mgr := n.Manager()
	if !strings.HasPrefix(line, "/") {
		if reached := n.Chat(line); reached == 0 {
			fmt.Fprintln(out, "* nobody connected, message queued")
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, joinHelp)
	case "/peers":
		for _, p := range mgr.Peers() {
			state := mesh.StateIdle
			if info, ok := mgr.Session(p.EndpointHandle); ok {
				state = info.State
			}
			fmt.Fprintf(out, "  %s  %-20s %s\n", p.EndpointHandle, p.Name, state)
		}
		if mgr.IsOffline() {
			fmt.Fprintln(out, "  (relay offline)")
		}
	case "/connect":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /connect <handle>")
			return false
		}
		if err := mgr.Connect(fields[1]); err != nil {
			fmt.Fprintf(out, "* connect: %v\n", err)
		}
	case "/disconnect":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /disconnect <handle>")
			return false
		}
		mgr.Disconnect(fields[1])
	case "/to":
		if len(fields) < 3 {
			fmt.Fprintln(out, "usage: /to <handle> <text>")
			return false
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, fields[0]+" "+fields[1]))
		if !n.ChatTo(fields[1], text) {
			fmt.Fprintf(out, "* %s is not connected\n", fields[1])
		}
	case "/meetup":
		if len(fields) < 4 {
			fmt.Fprintln(out, "usage: /meetup <handle> <place> <time>")
			return false
		}
		at := fields[len(fields)-1]
		place := strings.Join(fields[2:len(fields)-1], " ")
		if !n.RequestMeetup(fields[1], place, at) {
			fmt.Fprintf(out, "* %s is not connected\n", fields[1])
		}
	case "/history":
		msgs, err := n.Messages(ctx, cache.MessageFilter{})
		if err != nil {
			fmt.Fprintf(out, "* history: %v\n", err)
			return false
		}
		for _, m := range msgs {
			fmt.Fprintf(out, "  %s %-8s %s: %s\n", m.CreatedAt.Format("01-02 15:04"), m.Status, m.Sender, m.Body)
		}
	case "/cached":
		peers, err := n.CachedPeers(ctx)
		if err != nil {
			fmt.Fprintf(out, "* cache: %v\n", err)
			return false
		}
		for _, p := range peers {
			fmt.Fprintf(out, "  %-20s %s\n", p.Name, p.UserID)
		}
	default:
		fmt.Fprintf(out, "* unknown command %s, try /help\n", fields[0])
	}
	return false
}

func short(handle string) string {
	if len(handle) > 8 {
		return handle[:8]
	}
	return handle
}
