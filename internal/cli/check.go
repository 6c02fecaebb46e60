package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gzhole/bashguard/internal/approval"
	"github.com/gzhole/bashguard/internal/engine"
	"github.com/gzhole/bashguard/internal/policy"
	"github.com/gzhole/bashguard/internal/protocol"
)

var (
	checkFormat string
	checkStream bool
	checkJSON   bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a hook payload read from stdin",
	Long: `Reads an agent hook payload from stdin, evaluates the command against the
workspace policy and writes the verdict to stdout in the requested format.

Every verdict, including deny, exits 0. Malformed input or a broken policy
exits 1 with the error on stderr.

  bashguard check --format claude      # Claude Code PreToolUse hook
  bashguard check --format opencode    # OpenCode plugin
  bashguard check --format json --stream`,
	Args: cobra.NoArgs,
	RunE: checkCommand,
}

func init() {
	checkCmd.Flags().StringVar(&checkFormat, "format", string(protocol.FormatClaude), "Response format: claude, opencode, json or text")
	checkCmd.Flags().BoolVar(&checkStream, "stream", false, "Read newline-delimited requests until EOF, one response per line")
	// Accepted for hook commands written as "check --json --format ...".
	checkCmd.Flags().BoolVar(&checkJSON, "json", true, "Read the payload as JSON")
	_ = checkCmd.Flags().MarkHidden("json")
	rootCmd.AddCommand(checkCmd)
}

func checkCommand(cmd *cobra.Command, args []string) error {
	format, err := protocol.ParseFormat(checkFormat)
	if err != nil {
		return err
	}
	if approval.IsInteractive(os.Stdin) && cmd.InOrStdin() == os.Stdin {
		return fmt.Errorf("check reads a hook payload from stdin; use `bashguard test -c <command>` to try a command")
	}

	a, err := openApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	if checkStream {
		return serveStream(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout(), format)
	}
	return checkOnce(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout(), format)
}

func checkOnce(ctx context.Context, a *app, in io.Reader, out io.Writer, format protocol.Format) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := protocol.DecodeRequest(in)
	if err != nil {
		return err
	}
	v, err := a.evaluate(ctx, req.Engine())
	if err != nil {
		return err
	}
	return protocol.Encode(out, format, v)
}

// serveStream answers newline-delimited requests. Evaluations run
// concurrently; responses are written in request order. Approve and end
// events wait for earlier evaluations so they apply in order. The policy is
// reloaded when its files change.
func serveStream(ctx context.Context, a *app, in io.Reader, out io.Writer, format protocol.Format) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var watcher *policy.Watcher
	watcher, err := policy.NewWatcher(policy.WatcherConfig{
		Loader: a.loader,
		Store:  a.policy,
		OnReload: func(m *policy.Model, err error) {
			total, _, failed, _ := watcher.Stats()
			if err != nil {
				diag.Error("policy reload failed, refusing evaluations until fixed", "err", err, "reloads", total, "failed", failed)
				return
			}
			diag.Info("policy reloaded", "rules", len(m.Rules()), "fingerprint", m.Fingerprint(), "reloads", total)
		},
	})
	if err == nil {
		err = watcher.Start(ctx)
	}
	if err != nil {
		diag.Warn("policy hot reload disabled", "err", err)
		watcher = nil
	}
	defer func() {
		if watcher == nil || !watcher.IsRunning() {
			return
		}
		total, success, failed, lastErr := watcher.Stats()
		diag.Debug("policy watcher stopping", "reloads", total, "ok", success, "failed", failed, "last_error", lastErr)
	}()

	order := make(chan chan []byte, 128)
	outer, octx := errgroup.WithContext(ctx)
	outer.Go(func() error {
		for slot := range order {
			if _, err := out.Write(<-slot); err != nil {
				cancel()
				for range order {
				}
				return fmt.Errorf("writing response: %w", err)
			}
		}
		return nil
	})

	evals := newEvalGroup(octx)
	reader := protocol.NewStreamReader(in)
	var readErr error
	for octx.Err() == nil {
		msg, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		slot := make(chan []byte, 1)
		order <- slot

		var pe *protocol.ProtocolError
		if errors.As(err, &pe) {
			slot <- render(func(b io.Writer) error { return protocol.EncodeError(b, pe) })
			continue
		}
		if err != nil {
			readErr = err
			slot <- nil
			break
		}

		switch msg.Event {
		case protocol.EventEvaluate:
			req := msg.Request.Engine()
			evals.Go(func() error {
				slot <- evaluateLine(octx, a, req, format)
				return nil
			})
		case protocol.EventApprove, protocol.EventEnd:
			_ = evals.Wait()
			evals = newEvalGroup(octx)
			slot <- render(func(b io.Writer) error {
				return protocol.EncodeAck(b, handleEvent(octx, a, msg))
			})
		}
	}

	_ = evals.Wait()
	close(order)
	if err := outer.Wait(); err != nil {
		return err
	}
	return readErr
}

func newEvalGroup(ctx context.Context) *errgroup.Group {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	return g
}

func evaluateLine(ctx context.Context, a *app, req engine.Request, format protocol.Format) []byte {
	v, err := a.evaluate(ctx, req)
	if err != nil {
		return render(func(b io.Writer) error { return protocol.EncodeError(b, err) })
	}
	return render(func(b io.Writer) error { return protocol.Encode(b, format, v) })
}

func handleEvent(ctx context.Context, a *app, msg protocol.Message) protocol.Ack {
	ack := protocol.Ack{Event: msg.Event, SessionID: msg.Request.SessionID, Command: msg.Request.Command}
	switch msg.Event {
	case protocol.EventApprove:
		if _, err := a.approve(ctx, msg.Request.SessionID, msg.Request.Command, msg.Request.Cwd); err != nil {
			ack.Error = err.Error()
			return ack
		}
	case protocol.EventEnd:
		a.end(ctx, msg.Request.SessionID)
	}
	ack.Recorded = true
	return ack
}

func render(fn func(io.Writer) error) []byte {
	var b bytes.Buffer
	if err := fn(&b); err != nil {
		b.Reset()
		_ = protocol.EncodeError(&b, err)
	}
	return b.Bytes()
}
