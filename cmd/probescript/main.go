// probescript attaches expr scripts to kprobes and tracepoints and runs them on every hit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mrzor/probescript/internal/bpfloader"
	"github.com/mrzor/probescript/internal/catalog"
	"github.com/mrzor/probescript/internal/config"
	"github.com/mrzor/probescript/internal/eventprocessor"
	"github.com/mrzor/probescript/internal/eventstream"
	"github.com/mrzor/probescript/internal/interp"
	"github.com/mrzor/probescript/internal/logging"
	"github.com/mrzor/probescript/internal/matcher"
	"github.com/mrzor/probescript/internal/probe"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "probescript",
		Short:         "Run scripts on kernel probes and tracepoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides PROBESCRIPT_LOG_LEVEL)")

	rootCmd.AddCommand(newRunCmd(&logLevel))
	rootCmd.AddCommand(newListCmd(&logLevel))
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("probescript %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// setupRuntime parses environment settings and builds the logger.
func setupRuntime(logLevel string) (*config.Runtime, zerolog.Logger, error) {
	rt, err := config.ParseRuntime()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if logLevel != "" {
		rt.LogLevel = logLevel
	}
	logger := logging.New(logging.Config{
		Level:  rt.LogLevel,
		Pretty: rt.LogPretty,
		Output: os.Stderr,
	})
	return rt, logger, nil
}

// setupCatalog opens the tracefs event catalog, locating the mount point
// unless PROBESCRIPT_TRACEFS names one.
func setupCatalog(rt *config.Runtime, logger zerolog.Logger) (*catalog.Tracefs, error) {
	return catalog.NewTracefs(rt.Tracefs, logger)
}

func newListCmd(logLevel *string) *cobra.Command {
	var fields bool

	cmd := &cobra.Command{
		Use:   "list [filter]",
		Short: "List tracepoints matching a subsystem:name filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, logger, err := setupRuntime(*logLevel)
			if err != nil {
				return err
			}
			cat, err := setupCatalog(rt, logger)
			if err != nil {
				return err
			}

			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			events, err := matcher.Select(cat, filter)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events, fields)
		},
	}
	cmd.Flags().BoolVarP(&fields, "fields", "f", false, "print the fields of every event")
	return cmd
}

func printEvents(w io.Writer, events []*catalog.EventDescriptor, fields bool) error {
	for _, d := range events {
		if _, err := fmt.Fprintf(w, "%s:%s\n", d.Subsystem, d.Name); err != nil {
			return err
		}
		if !fields {
			continue
		}
		for _, f := range d.Fields {
			if _, err := fmt.Fprintf(w, "\t%s %s; offset:%d; size:%d; signed:%t\n",
				f.Type, f.Name, f.Offset, f.Size, f.Signed); err != nil {
				return err
			}
		}
	}
	return nil
}

type runOptions struct {
	file     string
	specs    []string
	scripts  []string
	param    string
	duration time.Duration
}

func newRunCmd(logLevel *string) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach scripts to probes until interrupted",
		Example: `  probescript run -p 'tp:sys_enter_openat' -e 'printf("%s %d", e.name, e.sc_nr)'
  probescript run -c probes.yaml -d 10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, logger, err := setupRuntime(*logLevel)
			if err != nil {
				return err
			}
			probes, duration, err := opts.resolve()
			if err != nil {
				return err
			}
			return run(cmd.Context(), rt, logger, probes, duration, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.file, "config", "c", "", "probe file (YAML)")
	cmd.Flags().StringArrayVarP(&opts.specs, "probe", "p", nil, "probe spec, e.g. tp:sys_enter_read or kprobe:vfs_read")
	cmd.Flags().StringArrayVarP(&opts.scripts, "exec", "e", nil, "script for the matching -p")
	cmd.Flags().StringVar(&opts.param, "param", "e", "name the event is bound to in -e scripts")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "stop after this duration")
	return cmd
}

// resolve merges the probe file with the -p/-e pairs.
func (o *runOptions) resolve() ([]config.Probe, time.Duration, error) {
	var probes []config.Probe
	duration := o.duration

	if o.file != "" {
		f, err := config.Load(o.file)
		if err != nil {
			return nil, 0, err
		}
		probes = append(probes, f.Probes...)
		if duration == 0 {
			duration = f.Duration
		}
	}

	pairs, err := config.Pair(o.specs, o.scripts, o.param)
	if err != nil {
		return nil, 0, err
	}
	probes = append(probes, pairs...)

	if len(probes) == 0 {
		return nil, 0, errors.New("no probes given, use -c or -p/-e")
	}
	return probes, duration, nil
}

// setupBPF creates the loader and opens the ring buffer.
// Returns loader, ring buffer reader, and cleanup function.
func setupBPF(rt *config.Runtime, logger zerolog.Logger, router *eventprocessor.Router, group uint32) (*bpfloader.Loader, *ringbuf.Reader, func(), error) {
	loader, err := bpfloader.New(bpfloader.Config{
		Logger:     logger,
		Router:     router,
		BufferSize: rt.RingBuffer,
		GroupID:    group,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	rd, err := loader.OpenRingBuffer()
	if err != nil {
		if closeErr := loader.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("Error closing loader after ring buffer open failure")
		}
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := rd.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Warn().Err(err).Msg("Error closing ring buffer")
		}
		if err := loader.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing loader")
		}
	}

	return loader, rd, cleanup, nil
}

// drainOutput copies script output to w until out is closed.
func drainOutput(out <-chan string, w io.Writer, logger zerolog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for line := range out {
			if _, err := fmt.Fprintln(w, line); err != nil {
				logger.Warn().Err(err).Msg("Writing script output")
			}
		}
	}()
	return done
}

// registerProbes compiles every script and registers it on its probe.
// Registration failures are reported by the session and skipped.
func registerProbes(session *probe.Session, scripts *interp.Main, probes []config.Probe, logger zerolog.Logger) int {
	armed := 0
	for i, p := range probes {
		cl, err := scripts.Compile(fmt.Sprintf("probe%d", i), p.Script, p.Params...)
		if err != nil {
			logger.Error().Err(err).Str("probe", p.Probe).Msg("Script does not compile")
			continue
		}
		n, err := session.Register(p.Probe, cl)
		if err != nil {
			logger.Warn().Err(err).Str("probe", p.Probe).Msg("Probe not registered")
			continue
		}
		armed += n
	}
	return armed
}

func run(ctx context.Context, rt *config.Runtime, logger zerolog.Logger, probes []config.Probe, duration time.Duration, stdout io.Writer) error {
	logger.Info().Str("version", version).Str("commit", commit).Msg("Starting probescript")

	cat, err := setupCatalog(rt, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Tracepoints unavailable")
	}

	cpus, err := bpfloader.CPUs()
	if err != nil {
		return err
	}

	// Samples of this process are skipped in the kernel and by the dispatcher.
	group := uint32(os.Getpid()) //nolint:gosec // pids fit in 32 bits
	router := eventprocessor.NewRouter(logger)
	loader, rd, cleanupBPF, err := setupBPF(rt, logger, router, group)
	if err != nil {
		return err
	}
	defer cleanupBPF()

	out := make(chan string, rt.OutputBuffer)
	outputDone := drainOutput(out, stdout, logger)

	scripts := interp.New(interp.Config{Logger: logger, Output: out})
	cfg := probe.Config{
		Logger:      logger,
		Interpreter: scripts,
		Reporter:    logging.NewDiagnostics(logger),
		Hooker:      loader,
		Counters:    loader,
		Sync:        router,
		CPUs:        cpus,
		GroupID:     group,
	}
	if cat != nil {
		cfg.Catalog = cat
	}
	session, err := probe.NewSession(cfg)
	if err != nil {
		close(out)
		return err
	}

	if armed := registerProbes(session, scripts, probes, logger); armed == 0 {
		close(out)
		<-outputDone
		return errors.New("no probe could be armed")
	}
	logger.Info().Int("records", session.Len()).Str("session", session.ID()).Msg("Probes armed")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	stream := eventstream.New(rd, router, logger)
	stream.Start(ctx)

	<-ctx.Done()
	logger.Info().Msg("Stopping, tearing probes down")

	report, err := session.Close()
	if err != nil {
		logger.Warn().Err(err).Msg("Teardown finished with errors")
	}

	// Closing the reader unblocks the stream; no dispatch runs after Done.
	if err := rd.Close(); err != nil {
		logger.Warn().Err(err).Msg("Error closing ring buffer")
	}
	stream.Stop()
	<-stream.Done()
	close(out)
	<-outputDone

	stats := scripts.Stats()
	dispatch := session.Stats().Dispatch
	logger.Info().
		Int("torn_down", report.TornDown).
		Int("teardown_failed", report.Failed).
		Uint64("dispatched", dispatch.Dispatched).
		Uint64("reentrant", dispatch.Reentrant).
		Uint64("self_excluded", dispatch.SelfExcluded).
		Uint64("script_failures", stats.Failures).
		Uint64("dropped_output", stats.DroppedOutput).
		Msg("Session finished")
	if last := scripts.LastError(); last != nil {
		logger.Info().Err(last).Msg("Last script failure")
	}
	return nil
}
