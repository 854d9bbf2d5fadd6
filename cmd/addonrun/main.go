package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	_ "github.com/wippyai/addon-runtime/addons/sample"
	"github.com/wippyai/addon-runtime/napi"
	"github.com/wippyai/addon-runtime/refhost"
	"github.com/wippyai/addon-runtime/wasmbind"
)

type options struct {
	addon       string
	funcName    string
	args        argList
	parallel    int
	wasmFile    string
	entry       string
	configFile  string
	list        bool
	interactive bool
}

func main() {
	var opts options
	flag.StringVar(&opts.addon, "addon", "sample", "Registered addon to load")
	flag.StringVar(&opts.funcName, "func", "", "Export to call")
	flag.Var(&opts.args, "arg", "Argument to pass (repeatable; numbers, true/false and null are converted)")
	flag.IntVar(&opts.parallel, "parallel", 1, "Number of concurrent calls of -func")
	flag.StringVar(&opts.wasmFile, "wasm", "", "Path to a wasm guest importing the addon module")
	flag.StringVar(&opts.entry, "entry", "run", "Guest export to run with -wasm")
	flag.StringVar(&opts.configFile, "config", "", "Path to a YAML config file")
	flag.BoolVar(&opts.list, "list", false, "List registered addons or the exports of -addon and exit")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	if !opts.list && !opts.interactive && opts.funcName == "" && opts.wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: addonrun [-addon name] -list")
		fmt.Fprintln(os.Stderr, "       addonrun [-addon name] -func name [-arg v]... [-parallel n]")
		fmt.Fprintln(os.Stderr, "       addonrun [-addon name] -wasm <file.wasm> [-entry run]")
		fmt.Fprintln(os.Stderr, "       addonrun [-addon name] -i  (interactive mode)")
		fmt.Fprintf(os.Stderr, "Registered addons: %s\n", strings.Join(napi.Modules(), ", "))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) (err error) {
	cfg, err := refhost.LoadConfig(opts.configFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	refhost.SetLogger(logger.Named("refhost"))
	napi.SetLogger(logger.Named("napi"))
	wasmbind.SetLogger(logger.Named("wasmbind"))

	if opts.list && opts.addon == "" {
		for _, name := range napi.Modules() {
			fmt.Println(name)
		}
		return nil
	}

	entry, ok := napi.Lookup(opts.addon)
	if !ok {
		return fmt.Errorf("unknown addon %q (registered: %s)", opts.addon, strings.Join(napi.Modules(), ", "))
	}

	h, err := refhost.New(cfg)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer func() { err = multierr.Append(err, h.Close()) }()

	addon, err := h.Load(ctx, opts.addon, entry)
	if err != nil {
		return fmt.Errorf("load %s: %w", opts.addon, err)
	}

	switch {
	case opts.interactive:
		return runInteractive(ctx, addon)
	case opts.list:
		return listExports(ctx, addon)
	case opts.wasmFile != "":
		return runGuest(ctx, addon, opts)
	default:
		return callExport(ctx, addon, opts)
	}
}

// newLogger builds a development logger for terminals and a production
// logger otherwise.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var cfg zap.Config
	if term.IsTerminal(int(os.Stderr.Fd())) {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func listExports(ctx context.Context, addon *refhost.Addon) error {
	names, err := addon.Exports(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Addon: %s\n\nExports:\n", addon.Name())
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func callExport(ctx context.Context, addon *refhost.Addon, opts options) error {
	args := opts.args.values()
	n := max(opts.parallel, 1)

	fmt.Printf("Calling %s(%s)", opts.funcName, formatArgs(args))
	if n > 1 {
		fmt.Printf(" x%d", n)
	}
	fmt.Println("...")

	results := make([]any, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			out, err := call(gctx, addon, opts.funcName, args)
			if err != nil {
				return fmt.Errorf("call %s: %w", opts.funcName, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, out := range results {
		if n > 1 {
			fmt.Printf("[%d] ", i)
		}
		fmt.Printf("Result: %s\n", formatValue(out))
	}
	return nil
}

// call invokes name and waits for the result when it is a promise.
func call(ctx context.Context, addon *refhost.Addon, name string, args []any) (any, error) {
	out, err := addon.Call(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if p, ok := out.(*refhost.Promise); ok {
		return p.Await(ctx)
	}
	return out, nil
}

func runGuest(ctx context.Context, addon *refhost.Addon, opts options) error {
	data, err := os.ReadFile(opts.wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	runner, err := wasmbind.NewRunner(ctx, addon, wasmbind.Config{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Args:   append([]string{opts.wasmFile}, opts.args...),
	})
	if err != nil {
		return err
	}
	defer runner.Close(ctx)

	fmt.Printf("Running %s in %s...\n", opts.entry, opts.wasmFile)
	results, err := runner.Run(ctx, data, opts.entry)
	if err != nil {
		if last := runner.Bridge().LastError(); last != "" {
			return fmt.Errorf("%w (last addon error: %s)", err, last)
		}
		return err
	}
	if len(results) > 0 {
		fmt.Printf("Result: %v\n", results)
	}
	return nil
}
