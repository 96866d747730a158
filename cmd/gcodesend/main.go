// Command gcodesend is a thin CLI over the Public Controller Facade:
// connect to a controller, stream a G-code file, jog, read status, and
// request overrides, all from the shell. Structured output follows the
// teacher corpus's logrus convention (linkerd2's cli/cmd package).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/config"
	"github.com/thawkins/gcodekit4-sub000/facade"
	"github.com/thawkins/gcodekit4-sub000/metrics"
	"github.com/thawkins/gcodekit4-sub000/session"
	"github.com/thawkins/gcodekit4-sub000/types"

	_ "github.com/thawkins/gcodekit4-sub000/firmware/grbl"
	_ "github.com/thawkins/gcodekit4-sub000/firmware/smoothie"
	_ "github.com/thawkins/gcodekit4-sub000/firmware/tinyg"
	_ "github.com/thawkins/gcodekit4-sub000/transport"
)

var (
	cfgFile      string
	port         string
	baud         int
	firmwareHint string
	haltOnError  bool
	verbose      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gcodesend",
		Short: "Stream G-code to a GRBL/TinyG/g2core/Smoothieware/FluidNC controller",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&port, "port", "", "serial port (overrides config)")
	root.PersistentFlags().IntVar(&baud, "baud", 0, "baud rate (overrides config)")
	root.PersistentFlags().StringVar(&firmwareHint, "firmware", "", `dialect hint: "grbl"|"tinyg"|"g2core"|"smoothieware"|"fluidnc"|"auto"`)
	root.PersistentFlags().BoolVar(&haltOnError, "halt-on-error", true, "stop the rest of a streamed file after the first error")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newStreamCmd(), newJogCmd(), newStatusCmd(), newOverrideCmd())
	return root
}

// buildController loads config, starts a session.Session against a fresh
// Bus, and blocks until Idle is observed or 5 s pass, mirroring
// spec.md §4.11's connect contract.
func buildController(ctx context.Context) (*facade.Controller, *session.Session, func(), error) {
	cfg, err := config.Load(cfgFile, config.Overrides{
		Port: port, Baud: baud, FirmwareHint: firmwareHint, HaltOnError: &haltOnError,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	b := bus.NewBus(8)
	conn := b.NewConnection("gcodesend")
	reg := metrics.NewRegistry()

	sess := session.NewSession(conn, reg)
	runCtx, cancel := context.WithCancel(ctx)
	go sess.Run(runCtx)
	config.Publish(conn, cfg)

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := reg.Serve(runCtx, cfg.Metrics.Listen); err != nil {
				log.WithError(err).Warn("metrics listener stopped")
			}
		}()
	}

	if err := waitIdle(conn, 5*time.Second); err != nil {
		cancel()
		return nil, nil, nil, err
	}

	return facade.New(sess, conn), sess, func() { conn.Disconnect(); cancel() }, nil
}

func waitIdle(conn *bus.Connection, timeout time.Duration) error {
	sub := conn.Subscribe(facade.TopicState())
	defer conn.Unsubscribe(sub)
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-sub.Channel():
			if ev, ok := msg.Payload.(types.StateTransitionEvent); ok && ev.To == types.Idle {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("gcodesend: controller did not reach Idle within %s", timeout)
		}
	}
}

func rootContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func newStreamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream <file>",
		Short: "Stream a G-code file and wait for completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := rootContext()
			ctrl, _, closeFn, err := buildController(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var lines []string
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					lines = append(lines, line)
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			log.WithField("lines", len(lines)).Info("streaming file")
			cmds, err := ctrl.Stream(ctx, lines)
			if err != nil {
				return err
			}
			for _, c := range cmds {
				<-c.Wait()
				if c.Status == types.Failed {
					log.WithFields(log.Fields{"id": c.ID, "code": c.Code, "payload": c.Payload}).Error("command failed")
				}
			}
			log.Info("stream complete")
			return nil
		},
	}
}

func newJogCmd() *cobra.Command {
	var axis string
	var dist, feed float64
	cmd := &cobra.Command{
		Use:   "jog",
		Short: "Issue a single relative jog move",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := rootContext()
			ctrl, _, closeFn, err := buildController(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			c, err := ctrl.Jog(axis, dist, feed)
			if err != nil {
				return err
			}
			<-c.Wait()
			if c.Status == types.Failed {
				return fmt.Errorf("jog failed: %s", c.Code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&axis, "axis", "X", "axis letter")
	cmd.Flags().Float64Var(&dist, "dist", 1, "signed distance")
	cmd.Flags().Float64Var(&feed, "feed", 500, "feed rate")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print one Machine State snapshot and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := rootContext()
			ctrl, _, closeFn, err := buildController(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			snap := ctrl.Snapshot()
			fmt.Printf("controller=%s work=%v machine=%v feed=%.1f spindle=%.1f\n",
				snap.Controller, snap.WorkPos(), snap.MachinePos, snap.FeedActual, snap.SpindleActual)
			return nil
		},
	}
}

func newOverrideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "override {feed|rapid|spindle} <percent>",
		Short:     "Set a feed/rapid/spindle override to an absolute percentage",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"feed", "rapid", "spindle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("override: invalid percent %q: %w", args[1], err)
			}
			ctx := rootContext()
			ctrl, _, closeFn, err := buildController(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			return ctrl.Override(session.OverrideKind(args[0]), target)
		},
	}
	return cmd
}
