package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trendpost/internal/bot"
	"trendpost/internal/budget"
	"trendpost/internal/config"
	"trendpost/internal/logging"
	"trendpost/internal/metrics"
	"trendpost/internal/reddit"
	"trendpost/internal/research"
	"trendpost/internal/store"
	"trendpost/internal/suggest"
	"trendpost/internal/telegram"
	"trendpost/internal/theme"
	"trendpost/internal/workflow"
	"trendpost/internal/xclient"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "run":
		cmdRun()
	case "check":
		cmdCheck()
	case "init":
		cmdInit()
	default:
		printHelp()
	}
}

func printHelp() {
	theme.PrintBanner(config.VariantResearch, config.SourceReddit)
	fmt.Println("Usage: trendpost <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  run     Start the Telegram bot")
	fmt.Println("  check   Validate configuration and reach every service")
	fmt.Println("  init    Create a config file at ./trendpost.yaml")
}

func fail(err error) {
	fmt.Println("error:", err)
	os.Exit(1)
}

// loadConfig reads .env, then the YAML file, and validates the result.
func loadConfig(path string) config.Config {
	loaded := config.LoadDotEnv()
	cfg, err := config.Load(path)
	if err != nil {
		fail(err)
	}
	logging.SetLevel(cfg.Log.Level)
	if len(loaded) > 0 {
		logging.Debug("dotenv_loaded", map[string]any{"files": loaded})
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}
	return cfg
}

func newDiscoverer(cfg config.Config) workflow.Discoverer {
	if cfg.Workflow.Source == config.SourceX {
		return xclient.NewHTTPClient(cfg.Credentials.BearerToken, cfg.Workflow.MaxResults)
	}
	return reddit.NewClient(cfg.Workflow.MaxResults)
}

func newPublisher(cfg config.Config) *xclient.Publisher {
	c := cfg.Credentials
	return xclient.NewPublisher(c.ConsumerKey, c.ConsumerSecret, c.AccessToken, c.AccessSecret)
}

func newGenerator(cfg config.Config) *suggest.Client {
	return suggest.NewClient(cfg.LLM.Host, cfg.LLM.Model, time.Duration(cfg.LLM.TimeoutSec)*time.Second)
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./trendpost.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	cfg := loadConfig(*cfgPath)
	theme.PrintBanner(cfg.Workflow.Variant, cfg.Workflow.Source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		fail(fmt.Errorf("open ledger: %w", err))
	}
	defer db.Close()

	gen := newGenerator(cfg)
	if h, err := gen.Ping(ctx); err != nil {
		logging.Warn("ollama_unreachable", map[string]any{"host": cfg.LLM.Host, "error": err.Error()})
	} else if !h.ModelInstalled {
		logging.Warn("ollama_model_missing", map[string]any{"model": cfg.LLM.Model, "installed": h.Models})
	}

	engine := workflow.NewEngine(
		newDiscoverer(cfg),
		research.NewClient(cfg.Workflow.ResearchResults),
		gen,
		newPublisher(cfg),
		workflow.Options{
			Variant:    cfg.Workflow.Variant,
			MaxResults: cfg.Workflow.MaxResults,
			MaxChars:   cfg.Workflow.MaxChars,
		},
	)
	gate := budget.New(db, cfg.Publish)
	engine.SetGate(gate)

	tg, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.PollTimeoutSec)
	if err != nil {
		fail(err)
	}
	b := bot.New(engine, tg, cfg.Telegram.AuthorizedUserID)
	b.SetLedger(db)
	b.SetQuota(gate)

	logging.Info("bot_started", map[string]any{
		"bot":     tg.Username(),
		"variant": cfg.Workflow.Variant,
		"source":  cfg.Workflow.Source,
		"model":   cfg.LLM.Model,
		"db":      cfg.Storage.DBPath,
		"metrics": cfg.Metrics.Addr,
		"user_id": cfg.Telegram.AuthorizedUserID,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tg.Poll(gctx, b) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fail(err)
	}
	logging.Info("bot_stopped", nil)
}

func cmdCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cfgPath := fs.String("config", "./trendpost.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	cfg := loadConfig(*cfgPath)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ok := true
	report := func(name string, err error, detail string) {
		if err != nil {
			ok = false
			fmt.Printf("✗ %-9s %v\n", name, err)
			return
		}
		fmt.Printf("✓ %-9s %s\n", name, detail)
	}

	fmt.Printf("✓ %-9s variant=%s source=%s\n", "config", cfg.Workflow.Variant, cfg.Workflow.Source)

	h, err := newGenerator(cfg).Ping(ctx)
	if err == nil && !h.ModelInstalled {
		err = fmt.Errorf("model %s is not pulled (installed: %v)", cfg.LLM.Model, h.Models)
	}
	report("ollama", err, cfg.LLM.Model+" at "+cfg.LLM.Host)

	tg, err := telegram.New(cfg.Telegram.Token, 0)
	detail := ""
	if err == nil {
		detail = "@" + tg.Username()
	}
	report("telegram", err, detail)

	acct, err := newPublisher(cfg).Me(ctx)
	report("x", err, "@"+acct.Username)

	if !ok {
		os.Exit(1)
	}
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./trendpost.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		fail(err)
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner(cfg.Workflow.Variant, cfg.Workflow.Source)
	fmt.Println("Config written to:", abs)
	fmt.Println("Credentials are read from the environment or a .env file when left empty.")
}
