package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/blebattery/internal/adapter"
	"github.com/srg/blebattery/internal/advertise"
	"github.com/srg/blebattery/internal/battery"
	"github.com/srg/blebattery/internal/gattserver"
	"github.com/srg/blebattery/internal/groutine"
	"github.com/srg/blebattery/internal/logsink"
	"github.com/srg/blebattery/internal/orchestrator"
	"github.com/srg/blebattery/internal/platform"
	"github.com/srg/blebattery/internal/platform/bluez"
	"github.com/srg/blebattery/internal/platform/goble"
	"github.com/srg/blebattery/internal/profile"
	"github.com/srg/blebattery/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Advertise the battery service and answer reads",
	Long: `Advertise the GATT Battery Service and answer Battery Level reads until
interrupted.

Status lines are printed as they happen. Send SIGHUP to stop and start the
peripheral again; SIGINT or SIGTERM stops it and exits.

If Bluetooth is turned off, serve asks the adapter backend to turn it on. The
bluez backend can power the adapter itself; the probe backend only checks
again.`,
	RunE: runServe,
}

var (
	serveNoColor   bool
	serveNoConsole bool
)

func init() {
	serveCmd.Flags().String("name", "", "Advertised device name (overrides device_name)")
	serveCmd.Flags().String("encoding", "", "Battery level encoding: signed or uint8 (overrides encoding)")
	serveCmd.Flags().BoolVar(&serveNoColor, "no-color", false, "Disable colored timestamps")
	serveCmd.Flags().BoolVar(&serveNoConsole, "no-console", false, "Send status lines to the log instead of stdout")
}

// peripheral is everything serve builds from a config.
type peripheral struct {
	orch    *orchestrator.Orchestrator
	server  *gattserver.Server
	ui      *consoleUI
	closers []func() error
	logger  *logrus.Logger
}

// buildPeripheral wires the platform backends, the battery source and the
// orchestrator for cfg.
func buildPeripheral(cfg *config.Config, logger *logrus.Logger, sink logsink.Sink) (*peripheral, error) {
	p := &peripheral{logger: logger}

	stack := goble.NewStack(goble.Options{
		StartGrace:  cfg.Advertise.StartGrace,
		AdvInterval: advertise.IntervalFor(advertise.Settings().Mode),
	}, logger)
	p.closers = append(p.closers, stack.Close)

	var adp platform.Adapter = stack
	if cfg.Adapter.Backend == config.BackendBlueZ {
		bz, err := bluez.New(cfg.Adapter.Name, logger)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.closers = append(p.closers, bz.Close)
		adp = bz
	}

	var source battery.Source
	switch cfg.Battery.Source {
	case config.SourceStatic:
		source = battery.Static(battery.Level(cfg.Battery.StaticLevel))
	default:
		source = battery.NewHost(logger)
	}

	p.ui = newConsoleUI(sink, adp)
	p.server = gattserver.New(stack, source, p.ui, logger, cfg.ServerOptions())

	orch, err := orchestrator.New(orchestrator.Config{
		Gate:       adapter.NewGate(adp, logger),
		Advertiser: stack,
		Server:     p.server,
		Listener:   p.ui,
		Descriptor: profile.Battery(),
		DeviceName: cfg.DeviceName,
		Logger:     logger,
	})
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.orch = orch
	return p, nil
}

// Close releases the backends in reverse order of creation.
func (p *peripheral) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	if n := groutine.Live(); n > 0 {
		p.logger.WithField("goroutines", n).Debug("Background goroutines still running after close")
	}
	return errors.Join(errs...)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	sink := statusSink(out, logger)

	p, err := buildPeripheral(cfg, logger, sink)
	if err != nil {
		return fmt.Errorf("failed to set up peripheral: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, restartSignals...)...)
	defer signal.Stop(sigCh)

	fmt.Fprintf(out, "Serving battery service %s as %q (%s encoding). Press Ctrl+C to stop.\n",
		profile.BatteryServiceUUID, cfg.DeviceName, cfg.Encoding)
	p.orch.Start()

	for {
		select {
		case sig := <-sigCh:
			if isRestart(sig) {
				p.ui.OnLog("restarting")
				p.orch.Restart()
				continue
			}
			p.orch.Stop()
			printSummary(out, p.server)
			return p.Close()
		case r := <-p.ui.results:
			p.orch.EnableResult(r)
		}
	}
}

// statusSink picks where status lines go for serve.
func statusSink(out io.Writer, logger *logrus.Logger) logsink.Sink {
	if serveNoConsole {
		return logsink.Logrus(logger)
	}
	colorize := !serveNoColor && isTerminal(out)
	console := logsink.NewConsole(out, colorize)
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		return logsink.Multi(console, logsink.Logrus(logger))
	}
	return console
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printSummary(w io.Writer, server *gattserver.Server) {
	fmt.Fprintf(w, "Served %d battery level read(s).\n", server.ReadCount())
	for _, c := range server.Connections() {
		fmt.Fprintf(w, "  %s  %-13s  last change %s\n", c.DeviceID, c.State, c.Updated.Format("15:04:05"))
	}
}
