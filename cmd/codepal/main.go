package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/codepal/codepal/internal/backend"
	"github.com/codepal/codepal/internal/config"
	"github.com/codepal/codepal/internal/intent"
	"github.com/codepal/codepal/internal/mcp"
	"github.com/codepal/codepal/internal/otp"
	"github.com/codepal/codepal/internal/pipeline"
	"github.com/codepal/codepal/internal/store"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(os.Args[2:])
	case "latest":
		err = runLatest(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "prune":
		err = runPrune(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("codepal %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds the flags shared by every command.
type cliFlags struct {
	configPath string
	db         string
	lang       string
	threshold  string
	cloud      string
	rest       []string
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		value := func() (string, error) {
			if idx := strings.Index(arg, "="); idx >= 0 {
				return arg[idx+1:], nil
			}
			i++
			if i >= len(args) {
				return "", fmt.Errorf("flag %s needs a value", arg)
			}
			return args[i], nil
		}

		var err error
		switch {
		case arg == "--config" || strings.HasPrefix(arg, "--config="):
			f.configPath, err = value()
		case arg == "--db" || strings.HasPrefix(arg, "--db="):
			f.db, err = value()
		case arg == "--lang" || strings.HasPrefix(arg, "--lang="):
			f.lang, err = value()
		case arg == "--threshold" || strings.HasPrefix(arg, "--threshold="):
			f.threshold, err = value()
		case arg == "--cloud" || strings.HasPrefix(arg, "--cloud="):
			f.cloud, err = value()
		case strings.HasPrefix(arg, "-"):
			return f, fmt.Errorf("unknown flag: %s", arg)
		default:
			f.rest = append(f.rest, arg)
		}
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

func resolve(f cliFlags) (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath:   f.configPath,
		CLIDBPath:    f.db,
		CLILanguage:  f.lang,
		CLIThreshold: f.threshold,
		CLICloud:     f.cloud,
	})
}

// buildPipeline assembles the full stack from resolved config. The
// caller owns the returned store.
func buildPipeline(cfg config.ResolvedConfig, autofill pipeline.Autofill) (*pipeline.Pipeline, store.Store, error) {
	threshold := 0.0
	if cfg.Threshold.Value != "" {
		v, err := strconv.ParseFloat(cfg.Threshold.Value, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid threshold %q (from %s)", cfg.Threshold.Value, cfg.Threshold.From)
		}
		threshold = v
	}

	engine, err := otp.NewEngine(threshold)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.NewStore(store.Config{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	nano := backend.NewNano(backend.NanoConfig{
		ModelPath:     cfg.NanoModelPath.Value,
		TokenizerPath: cfg.NanoTokenizerPath.Value,
		LibraryPath:   cfg.NanoLibraryPath.Value,
	})
	cloud := backend.NewGemini(backend.GeminiConfig{
		APIKey: cfg.CloudAPIKey.Value,
		Model:  cfg.CloudModel.Value,
	})

	p, err := pipeline.New(pipeline.Config{
		Engine:       engine,
		Nano:         nano,
		Cloud:        cloud,
		Store:        st,
		Intent:       intent.NewTracker(0),
		Autofill:     autofill,
		CloudEnabled: cfg.CloudOn(),
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return p, st, nil
}

// stderrAutofill announces codes on stderr, so `serve` can keep stdout
// for the MCP protocol.
type stderrAutofill struct{}

func (stderrAutofill) Fill(ctx context.Context, code string) error {
	fmt.Fprintf(os.Stderr, "autofill ready: %s\n", code)
	return nil
}

func runExtract(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	var text string
	if len(f.rest) > 0 {
		text = strings.Join(f.rest, " ")
	} else {
		// No argument: read the message from stdin.
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(b)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("usage: codepal extract <text> [--lang en] [--threshold 0.8] [--cloud on|off]")
	}

	p, st, err := buildPipeline(cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	lang := otp.LangAuto
	if cfg.Language.Value != "" {
		lang = otp.Language(cfg.Language.Value)
	}

	res, err := p.Process(context.Background(), otp.Request{Text: text, Language: lang})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runLatest(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	st, err := store.NewStore(store.Config{DBPath: cfg.DBPath.Value})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	c, err := st.LatestFresh(context.Background())
	if err != nil {
		return err
	}
	if c == nil {
		fmt.Println("No fresh code.")
		return nil
	}
	fmt.Printf("%s  (%.2f via %s, %s)\n", c.Code, c.Confidence, c.Method, c.CreatedAt.Local().Format("15:04:05"))
	return nil
}

func runServe(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	p, st, err := buildPipeline(cfg, stderrAutofill{})
	if err != nil {
		return err
	}
	defer st.Close()

	srv := mcp.NewServer(mcp.ServerConfig{Pipeline: p, Store: st, Version: version})
	fmt.Fprintf(os.Stderr, "codepal %s serving MCP on stdio (config: %s)\n", version, cfg.ConfigPath)
	return mcpserver.ServeStdio(srv)
}

func runStatus(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	p, st, err := buildPipeline(cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	fmt.Printf("codepal %s\n\nTiers:\n", version)
	for _, ts := range p.Status(ctx) {
		fmt.Printf("  %-24s %s\n", ts.Name, ts.Availability)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nStore:\n")
	fmt.Printf("  codes:     %d (%d fresh)\n", stats.CodeCount, stats.FreshCount)
	fmt.Printf("  processed: %d\n", stats.ProcessedCount)
	fmt.Printf("  size:      %d bytes\n", stats.DBSizeBytes)

	fmt.Printf("\nConfig:\n")
	printValue := func(name string, v config.ResolvedValue) {
		if v.Value == "" {
			return
		}
		val := v.Value
		if name == "cloud api key" {
			val = "set"
		}
		fmt.Printf("  %-14s %s (%s %s)\n", name+":", val, v.Source, v.From)
	}
	printValue("db", cfg.DBPath)
	printValue("language", cfg.Language)
	printValue("threshold", cfg.Threshold)
	printValue("cloud", cfg.CloudEnabled)
	printValue("cloud model", cfg.CloudModel)
	printValue("cloud api key", cfg.CloudAPIKey)
	printValue("nano model", cfg.NanoModelPath)
	return nil
}

func runPrune(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	st, err := store.NewStore(store.Config{DBPath: cfg.DBPath.Value})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	n, err := st.Prune(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d rows.\n", n)
	return nil
}

func printUsage() {
	fmt.Printf(`codepal %s — Tiered one-time-password extraction

Usage:
  codepal <command> [arguments]

Commands:
  extract [text]      Extract a verification code (reads stdin when no text given)
  latest              Print the most recent fresh code
  serve               Serve the MCP tool surface on stdio
  status              Show tier availability, store stats and config provenance
  prune               Delete codes and message hashes past retention
  version             Print version

Flags:
  --config <path>     Config file (default ~/.codepal/config.yaml)
  --db <path>         Database path
  --lang <code>       Declared message language: auto, zh, en, es, it
  --threshold <n>     Local acceptance threshold (default 0.8)
  --cloud on|off      Enable or disable the cloud tier
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}
