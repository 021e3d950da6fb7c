package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/docker/go-units"
	"github.com/wippyai/icall-bridge/engine"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

type argList []string

func (a *argList) String() string { return strings.Join(*a, " ") }

func (a *argList) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func main() {
	var args argList
	var (
		manifestFile = flag.String("manifest", "", "Path to the image manifest (icall.toml)")
		wasmFile     = flag.String("wasm", "", "Path to the image wasm file (overrides the manifest module)")
		demo         = flag.Bool("demo", false, "Use the built-in example image")
		method       = flag.String("call", "", "Method to call")
		list         = flag.Bool("list", false, "Describe the loaded image and exit")
		memLimit     = flag.String("mem", "", "Memory limit per instance, e.g. 64MiB")
		msgLevel     = flag.String("msglevel", "info", "Lowest level of managed messages shown: info, warn or error")
		watchFiles   = flag.Bool("watch", false, "Reload when the manifest or image changes")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
		verbose      = flag.Bool("v", false, "Verbose logging")
	)
	flag.Var(&args, "arg", "Argument for -call; repeat for each parameter (structs as X=1,Y=2)")
	flag.Parse()

	if *manifestFile == "" && *wasmFile == "" && !*demo {
		fmt.Fprintln(os.Stderr, "Usage: icallhost -manifest icall.toml [-call Method -arg v ...]")
		fmt.Fprintln(os.Stderr, "       icallhost -manifest icall.toml -list")
		fmt.Fprintln(os.Stderr, "       icallhost -demo -call StaticMethod -arg 50")
		fmt.Fprintln(os.Stderr, "       icallhost -manifest icall.toml -i  (interactive mode)")
		os.Exit(1)
	}

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	engine.SetLogger(log.Named("engine"))

	cfg, err := engineConfig(*memLimit, *msgLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	src := source{manifestPath: *manifestFile, wasmPath: *wasmFile, demo: *demo}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(ctx, src, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, log, src, cfg, *method, args, *list, *watchFiles); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}

// formatMessage renders a managed message the way the host prints it
func formatMessage(level zapcore.Level, text string) string {
	return fmt.Sprintf("[managed](%s): %s", level.CapitalString(), text)
}

func engineConfig(memLimit, msgLevel string) (*engine.Config, error) {
	cfg := &engine.Config{
		OnMessage: func(level zapcore.Level, text string) {
			fmt.Fprintln(os.Stderr, formatMessage(level, text))
		},
	}
	if msgLevel != "" {
		lvl, err := zapcore.ParseLevel(msgLevel)
		if err != nil {
			return nil, fmt.Errorf("parse -msglevel: %w", err)
		}
		if lvl < zapcore.InfoLevel || lvl > zapcore.ErrorLevel {
			return nil, fmt.Errorf("-msglevel %s: managed messages are info, warn or error", lvl)
		}
		cfg.MessageLevel = lvl
	}
	if memLimit == "" {
		return cfg, nil
	}
	bytes, err := units.RAMInBytes(memLimit)
	if err != nil {
		return nil, fmt.Errorf("parse -mem: %w", err)
	}
	pages := bytes / 65536
	if pages < 1 || pages > 65536 {
		return nil, fmt.Errorf("-mem %s is outside 64KiB..4GiB", units.BytesSize(float64(bytes)))
	}
	cfg.MemoryLimitPages = uint32(pages)
	return cfg, nil
}

func run(ctx context.Context, log *zap.Logger, src source, cfg *engine.Config, method string, args []string, listOnly, watchFiles bool) error {
	s, err := newSession(ctx, log, src, cfg)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	defer s.close(context.Background())

	fmt.Print(s.describe())
	if listOnly {
		return nil
	}

	invoke := func() error {
		if method == "" {
			return nil
		}
		fmt.Printf("\nCalling %s(%s)...\n", method, strings.Join(args, ", "))
		result, err := s.call(ctx, method, args)
		if err != nil {
			return fmt.Errorf("call %s: %w", method, err)
		}
		fmt.Printf("Result: %v\n", result)
		return nil
	}
	err = invoke()

	if !watchFiles {
		return err
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
	s.mu.Lock()
	paths := src.paths(s.manifest)
	s.mu.Unlock()
	return watch(ctx, s, paths, func(err error) {
		if err != nil {
			fmt.Printf("\nReload failed: %v\n", err)
			return
		}
		fmt.Printf("\nReloaded (generation %d)\n", s.bridge.Generation())
		if err := invoke(); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	})
}
