// Command agentloop-bot is the chat-bot front end: it wires the same core
// components cmd/agentloop uses — policy, registry, provider router,
// scheduler, session store — behind a Telegram transport instead of a
// terminal prompt.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kaiho/agentloop/internal/budget"
	"github.com/kaiho/agentloop/internal/config"
	"github.com/kaiho/agentloop/internal/eventlog"
	"github.com/kaiho/agentloop/internal/policy"
	"github.com/kaiho/agentloop/internal/provider"
	"github.com/kaiho/agentloop/internal/registry"
	"github.com/kaiho/agentloop/internal/scheduler"
	"github.com/kaiho/agentloop/internal/session"
	"github.com/kaiho/agentloop/internal/telegrambot"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		maxSteps     = flag.Int("maxSteps", 12, "budget: maximum model calls per turn")
		maxToolCalls = flag.Int("maxToolCalls", 30, "budget: maximum tool calls per turn")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	if cfg.TelegramToken == "" {
		fmt.Fprintln(os.Stderr, "Error: TELEGRAM_BOT_TOKEN is not set")
		return 1
	}

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}

	logger, closer, err := eventlog.Open(workDir + "/logs/app.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	defer closer.Close()

	engine := policy.New(workDir)
	if data, err := os.ReadFile(workDir + "/.gitignore"); err == nil {
		engine.LoadGitignore(strings.Split(string(data), "\n"))
	}
	reg, err := registry.New(engine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}

	router := provider.NewRouter()
	router.Register(provider.NameGrok, provider.NewGrokProvider(cfg.GrokAPIKey, cfg.GrokBaseURL, cfg.GrokModel), cfg.GrokModel)
	if cfg.AnthropicKey != "" {
		router.Register(provider.NameAnthropic, provider.NewAnthropicProvider(cfg.AnthropicKey, cfg.AnthropicModel, 4096), cfg.AnthropicModel)
	}

	sched := &scheduler.Scheduler{Registry: reg, Router: router, Events: logger, KeepLastN: 200}
	store := session.NewStore(workDir + "/data/sessions")

	limits := budget.Limits{MaxSteps: *maxSteps, MaxToolCalls: *maxToolCalls}

	b, err := telegrambot.New(cfg, store, sched, logger, limits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b.Run(ctx)
	return 0
}
