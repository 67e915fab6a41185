// Command agentloop is the terminal front end: a small flag grammar that
// either runs one manual tool call through the registry, a single non-tool
// assistant turn, or the full scheduler loop with a stdin approval prompt.
// It is the one place the core components (policy, registry, provider,
// budget, session, scheduler) are wired together for interactive use.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kaiho/agentloop/internal/apperr"
	"github.com/kaiho/agentloop/internal/budget"
	"github.com/kaiho/agentloop/internal/config"
	"github.com/kaiho/agentloop/internal/eventlog"
	"github.com/kaiho/agentloop/internal/policy"
	"github.com/kaiho/agentloop/internal/provider"
	"github.com/kaiho/agentloop/internal/registry"
	"github.com/kaiho/agentloop/internal/scheduler"
	"github.com/kaiho/agentloop/internal/session"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("agentloop", flag.ContinueOnError)
	var (
		sessionID       = fs.String("session", "", "session id; empty creates a fresh one")
		dev             = fs.Bool("dev", false, "run under the elevated dev purpose")
		heartbeat       = fs.Bool("heartbeat", false, "run a synthetic heartbeat turn")
		system          = fs.String("system", "", "system prompt for this run")
		toolName        = fs.String("tool", "", "execute a single named tool manually instead of talking to a model")
		path            = fs.String("path", "", "path argument for --tool read_file/list_dir/write_file")
		content         = fs.String("content", "", "content argument for --tool write_file")
		overwrite       = fs.Bool("overwrite", false, "overwrite argument for --tool write_file")
		toolloop        = fs.Bool("toolloop", false, "run the full scheduler loop instead of a single assistant turn")
		maxSteps        = fs.Int("maxSteps", 10, "budget: maximum model calls (also --steps)")
		stepsAlias      = fs.Int("steps", 0, "alias for --maxSteps")
		maxToolCalls    = fs.Int("maxToolCalls", 25, "budget: maximum tool calls")
		maxOutputTokens = fs.Int("maxOutputTokens", 4096, "per-call output token cap")
		yes             = fs.Bool("yes", false, "auto-approve reads and directory listings; writes still confirm")
		jsonOut         = fs.Bool("json", false, "print machine-readable JSON instead of a human transcript")
		providerFlag    = fs.String("provider", "", "override provider selection (anthropic|grok)")
		model           = fs.String("model", "", "override the model for this run")
		listSessions    = fs.Bool("list-sessions", false, "list saved sessions and exit")
		deleteSession   = fs.String("delete-session", "", "delete the named session and exit")
		exportSession   = fs.String("export-session", "", "export the named session as Markdown and exit")
		pruneDays       = fs.Int("prune-sessions", 0, "delete sessions not updated in this many days, then exit")
		rewind          = fs.Int("rewind", 0, "truncate the session's history back to before the given turn, then exit")
		contextWindow   = fs.Int("contextWindow", 180_000, "model context window used to decide when to compact history; 0 disables compaction")
	)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: agentloop [flags] [message...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *stepsAlias > 0 {
		*maxSteps = *stepsAlias
	}

	cfg, err := config.Load()
	if err != nil {
		return fail(*jsonOut, err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fail(*jsonOut, err)
	}

	logger, closer, err := eventlog.Open(workDir + "/logs/app.log")
	if err != nil {
		return fail(*jsonOut, err)
	}
	defer closer.Close()

	store := session.NewStore(workDir + "/data/sessions")

	switch {
	case *listSessions:
		return cmdListSessions(store, *jsonOut)
	case *deleteSession != "":
		return cmdDeleteSession(store, *deleteSession, *jsonOut)
	case *exportSession != "":
		return cmdExportSession(store, *exportSession, *jsonOut)
	case *pruneDays > 0:
		return cmdPruneSessions(store, *pruneDays, *jsonOut)
	case *rewind > 0:
		return cmdRewindSession(store, *sessionID, *rewind, *jsonOut)
	}

	engine := policy.New(workDir)
	if data, err := os.ReadFile(workDir + "/.gitignore"); err == nil {
		engine.LoadGitignore(strings.Split(string(data), "\n"))
	}
	reg, err := registry.New(engine)
	if err != nil {
		return fail(*jsonOut, err)
	}

	purpose := policy.PurposeDefault
	switch {
	case *dev:
		purpose = policy.PurposeDev
	case *heartbeat:
		purpose = policy.PurposeHeartbeat
	}
	if purpose == policy.PurposeDev {
		if err := cfg.RequireAnthropic(); err != nil {
			return fail(*jsonOut, err)
		}
	}

	if *toolName != "" {
		return cmdManualTool(reg, purpose, *toolName, *path, *content, *overwrite, *jsonOut)
	}

	router := buildRouter(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := store.GetOrCreate(*sessionID)
	if err != nil {
		return fail(*jsonOut, err)
	}

	if *contextWindow > 0 && session.ShouldCompact(sess.Messages, *contextWindow) {
		sess, err = compactSession(ctx, router, purpose, sess)
		if err != nil {
			logger.Error("compaction", err, map[string]any{"session": sess.ID})
			return fail(*jsonOut, err)
		}
		logger.Event("context_compacted", map[string]any{"session": sess.ID, "messages": len(sess.Messages)})
	}

	userText := strings.Join(fs.Args(), " ")
	if *heartbeat && userText == "" {
		userText = "heartbeat"
	}
	if userText == "" {
		fmt.Fprintln(os.Stderr, "agentloop: no message given")
		return 1
	}
	sess.TurnBoundaries = append(sess.TurnBoundaries, len(sess.Messages))
	sess.Messages = append(sess.Messages, provider.TextMessage("user", userText))

	sched := &scheduler.Scheduler{Registry: reg, Router: router, Events: logger, KeepLastN: 200}

	limits := budget.Limits{
		MaxSteps:        *maxSteps,
		MaxToolCalls:    *maxToolCalls,
		MaxOutputTokens: 0,
	}

	req := scheduler.RunRequest{
		Messages:        sess.Messages,
		System:          *system,
		Model:           *model,
		MaxOutputTokens: *maxOutputTokens,
		Purpose:         purpose,
		Provider:        provider.Name(*providerFlag),
	}
	if purpose == policy.PurposeDev {
		req.Temperature = 0.7
	}
	if !*toolloop {
		req.Tools = []provider.ToolDefinition{}
	}

	approve := stdinApprove(*yes)

	result, err := sched.Run(ctx, req, approve, limits)
	if err != nil {
		logger.Error("scheduler_run", err, map[string]any{"session": sess.ID, "purpose": string(purpose)})
		return fail(*jsonOut, err)
	}

	sess.Messages = result.Messages
	if err := store.Save(sess); err != nil {
		return fail(*jsonOut, err)
	}

	printResult(sess.ID, result, cfg, router.Resolve(purpose, provider.Name(*providerFlag)), *jsonOut)
	return 0
}

func buildRouter(cfg *config.Config) *provider.Router {
	router := provider.NewRouter()
	router.Register(provider.NameGrok, provider.NewGrokProvider(cfg.GrokAPIKey, cfg.GrokBaseURL, cfg.GrokModel), cfg.GrokModel)
	if cfg.AnthropicKey != "" {
		router.Register(provider.NameAnthropic, provider.NewAnthropicProvider(cfg.AnthropicKey, cfg.AnthropicModel, 4096), cfg.AnthropicModel)
	}
	return router
}

// compactSession replaces a session's message history with a single
// synthetic user turn carrying a model-generated summary, once
// session.ShouldCompact reports the history is close to filling the context
// window.
func compactSession(ctx context.Context, router *provider.Router, purpose policy.Purpose, sess session.Session) (session.Session, error) {
	resp, err := router.Send(ctx, purpose, "", provider.Request{
		System:    session.CompactionPrompt(),
		Messages:  []provider.Message{provider.TextMessage("user", session.SerializeHistory(sess.Messages))},
		MaxTokens: 2048,
	})
	if err != nil {
		return sess, fmt.Errorf("compact session: %w", err)
	}
	summary := resp.Message.ContentString()
	sess.Messages = []provider.Message{
		provider.TextMessage("user", "Summary of the conversation so far, compacted to stay within the context window:\n\n"+summary),
	}
	sess.TurnBoundaries = nil
	return sess, nil
}

// stdinApprove binds scheduler.ApproveFunc to a blocking stdin prompt:
// "y"/"yes" confirms; with autoApproveReads, read_file and list_dir
// auto-approve while write_file still confirms.
func stdinApprove(autoApproveReads bool) scheduler.ApproveFunc {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, call provider.ToolCall) bool {
		kind := policy.ClassifyTool(call.Function.Name)
		if autoApproveReads && kind == policy.ToolKindRead {
			return true
		}
		fmt.Printf("Approve %s(%s)? [y/N] ", call.Function.Name, call.Function.Arguments)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes"
	}
}

func cmdManualTool(reg *registry.Registry, purpose policy.Purpose, name, path, content string, overwrite, jsonOut bool) int {
	args := map[string]any{}
	switch name {
	case "read_file", "list_dir":
		args["path"] = path
	case "write_file":
		args["path"] = path
		args["content"] = content
		args["overwrite"] = overwrite
	case "calculator":
		args["expression"] = content
	case "run_cmd":
		args["command"] = content
	}
	raw, _ := json.Marshal(args)

	result := reg.Execute(context.Background(), name, purpose, raw)
	if jsonOut {
		enc, _ := json.Marshal(result)
		fmt.Println(string(enc))
	} else if result.OK {
		fmt.Printf("%s: %v\n", name, result.Result)
	} else {
		fmt.Fprintf(os.Stderr, "%s: error: %s\n", name, result.Error)
	}
	if !result.OK {
		return 1
	}
	return 0
}

func cmdListSessions(store *session.Store, jsonOut bool) int {
	sessions, err := store.List()
	if err != nil {
		return fail(jsonOut, err)
	}
	if jsonOut {
		enc, _ := json.Marshal(sessions)
		fmt.Println(string(enc))
		return 0
	}
	for _, s := range sessions {
		fmt.Printf("%s\t%s\t%d messages\n", s.ID, s.UpdatedAt.Format(time.RFC3339), len(s.Messages))
	}
	return 0
}

func cmdDeleteSession(store *session.Store, id string, jsonOut bool) int {
	if err := store.Delete(id); err != nil {
		return fail(jsonOut, err)
	}
	fmt.Printf("deleted %s\n", id)
	return 0
}

func cmdExportSession(store *session.Store, id string, jsonOut bool) int {
	sess, err := store.Load(id)
	if err != nil {
		return fail(jsonOut, err)
	}
	fmt.Print(store.ExportMarkdown(sess))
	return 0
}

func cmdRewindSession(store *session.Store, id string, turn int, jsonOut bool) int {
	if id == "" {
		return fail(jsonOut, fmt.Errorf("agentloop: --rewind requires --session"))
	}
	sess, err := store.Load(id)
	if err != nil {
		return fail(jsonOut, err)
	}
	messages, boundaries, err := session.RewindMessages(sess.Messages, sess.TurnBoundaries, turn)
	if err != nil {
		return fail(jsonOut, err)
	}
	sess.Messages = messages
	sess.TurnBoundaries = boundaries
	if err := store.Save(sess); err != nil {
		return fail(jsonOut, err)
	}
	fmt.Printf("rewound %s to turn %d (%d messages remain)\n", id, turn, len(sess.Messages))
	return 0
}

func cmdPruneSessions(store *session.Store, days int, jsonOut bool) int {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err := store.PruneOlderThan(cutoff)
	if err != nil {
		return fail(jsonOut, err)
	}
	if jsonOut {
		enc, _ := json.Marshal(map[string]any{"pruned": removed})
		fmt.Println(string(enc))
		return 0
	}
	fmt.Printf("pruned %d session(s)\n", len(removed))
	return 0
}

func printResult(sessionID string, result *scheduler.RunResult, cfg *config.Config, providerName provider.Name, jsonOut bool) {
	if jsonOut {
		payload := map[string]any{
			"session":      sessionID,
			"finishReason": result.Final.FinishReason,
			"text":         result.Final.Message.ContentString(),
			"usage":        result.Usage,
			"steps":        result.Ledger.StepsUsed,
			"toolCalls":    result.Ledger.ToolCallsUsed,
		}
		enc, _ := json.Marshal(payload)
		fmt.Println(string(enc))
		return
	}
	fmt.Println(result.Final.Message.ContentString())
	usd := cfg.EstimateUSD(string(providerName), result.Usage.InputTokens, result.Usage.OutputTokens)
	fmt.Fprintf(os.Stderr, "[%s steps=%d tools=%d tokens=%d est=$%.4f]\n",
		sessionID, result.Ledger.StepsUsed, result.Ledger.ToolCallsUsed, result.Usage.TotalTokens, usd)
}

func fail(jsonOut bool, err error) int {
	kind := apperr.Classify(err)
	if jsonOut {
		enc, _ := json.Marshal(map[string]any{"error": err.Error(), "kind": string(kind)})
		fmt.Println(string(enc))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	return 1
}
