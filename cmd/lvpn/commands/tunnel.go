package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/session"
)

const connectPoll = 20 * time.Millisecond

type tunnelFlags struct {
	keyFile    string
	closeOnEOF bool
}

func listenCmd(a *app) *cobra.Command {
	var f tunnelFlags
	var bind string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for a peer to dial in",
		Long: `Listen on the tunnel port and accept one peer at a time. Lines read from
stdin are sent to the peer; payloads from the peer are printed to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if bind == "" {
				bind = a.cfg.ListenAddress
			}
			return a.runTunnel(cmd, lvpn.Responder, bind, f)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "bind address (default from config, 0.0.0.0)")
	cmd.Flags().StringVar(&f.keyFile, "key-file", "", "read the hex key from this file")
	cmd.Flags().BoolVar(&f.closeOnEOF, "close-on-eof", false, "disconnect when stdin ends")
	return cmd
}

func dialCmd(a *app) *cobra.Command {
	var f tunnelFlags
	cmd := &cobra.Command{
		Use:   "dial <peer-address>",
		Short: "Connect to a listening peer",
		Long: `Dial a listening peer. Lines read from stdin are sent to the peer; payloads
from the peer are printed to stdout. The tunnel reconnects with backoff if the
link drops.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTunnel(cmd, lvpn.Initiator, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.keyFile, "key-file", "", "read the hex key from this file")
	cmd.Flags().BoolVar(&f.closeOnEOF, "close-on-eof", true, "disconnect when stdin ends")
	return cmd
}

func (a *app) runTunnel(cmd *cobra.Command, role lvpn.Role, peer string, f tunnelFlags) error {
	k, err := a.resolveKey("", f.keyFile)
	if err != nil {
		return err
	}
	m, err := lvpn.NewManager(a.cfg, lvpn.WithLogger(a.log))
	if err != nil {
		return err
	}
	defer m.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Fingerprint:"), k.Fingerprint())
	if _, err := m.Connect(role, peer, a.cfg.Port, k); err != nil {
		return err
	}
	if addr := m.ListenAddr(); addr != "" {
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Listening:"), addr)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eof := make(chan struct{})
	go pumpStdin(ctx, cmd.InOrStdin(), cmd.ErrOrStderr(), m, eof)

	runErr := a.watch(ctx, out, m, f.closeOnEOF, eof)
	final := m.Disconnect()
	fmt.Fprint(out, a.formatter.Format(final))
	return runErr
}

// watch prints events until the session ends or the user interrupts.
func (a *app) watch(ctx context.Context, out io.Writer, m *lvpn.Manager, closeOnEOF bool, eof <-chan struct{}) error {
	// State events are best effort, so poll for a terminal state as well.
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-eof:
			if closeOnEOF {
				return nil
			}
			eof = nil
		case <-tick.C:
			if st := m.State(); st.Terminal() {
				return ended(m, st)
			}
		case ev, ok := <-m.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case lvpn.EventPayload:
				fmt.Fprintln(out, payloadStyle.Render(string(ev.Payload)))
			case lvpn.EventStateChanged:
				fmt.Fprintln(out, renderState(ev.State))
				if ev.State.Terminal() {
					return ended(m, ev.State)
				}
			}
		}
	}
}

func ended(m *lvpn.Manager, st session.State) error {
	if st != session.StateFailed {
		return nil
	}
	if err := m.Err(); err != nil {
		return err
	}
	return errors.New("session failed")
}

// pumpStdin sends each stdin line as one payload. Reading starts only once
// the tunnel is up; eof is closed when stdin ends, not when the session
// gives up before connecting.
func pumpStdin(ctx context.Context, in io.Reader, errOut io.Writer, m *lvpn.Manager, eof chan<- struct{}) {
	if !waitConnected(ctx, m) {
		return
	}
	defer close(eof)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := m.Send(line); err != nil {
			fmt.Fprintln(errOut, errorStyle.Render("send: "+err.Error()))
		}
	}
}

// waitConnected reports whether the session reached Connected before it
// ended or ctx was cancelled.
func waitConnected(ctx context.Context, m *lvpn.Manager) bool {
	tick := time.NewTicker(connectPoll)
	defer tick.Stop()
	for {
		switch st := m.State(); {
		case st == session.StateConnected:
			return true
		case st.Terminal():
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
}
