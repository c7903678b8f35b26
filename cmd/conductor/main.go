// Command conductor is the interactive conversational front end: it reads user
// turns from stdin, hands them to the orchestration loop, and surfaces
// background tool completions between inputs.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"conductor/pkg/agent/llmimpl"
	"conductor/pkg/config"
	"conductor/pkg/ident"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/orchestrator"
	"conductor/pkg/persistence"
	"conductor/pkg/registry"
	"conductor/pkg/session"
	"conductor/pkg/tokens"
	"conductor/pkg/tools"
)

func main() {
	var configPath string
	var resume bool
	flag.StringVar(&configPath, "config", "conductor.yaml", "Path to config file")
	flag.BoolVar(&resume, "continue", false, "Resume the most recent session")
	flag.Parse()

	if err := run(configPath, resume); err != nil {
		fmt.Fprintf(os.Stderr, "conductor: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, resume bool) error {
	logger := logx.NewLogger("main")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := persistence.InitializeDatabase(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ops := persistence.NewDatabaseOperations(db)
	alloc := ident.NewAllocator(ops)
	reg := registry.New(alloc, ops)

	catalogue := tools.NewCatalogue()
	if err := tools.RegisterBuiltins(catalogue); err != nil {
		return err
	}
	applyToolTimeout(catalogue, cfg)

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	exec := registry.NewExecutor(reg, catalogue, recorder)

	client, err := llmimpl.NewClient(cfg)
	if err != nil {
		return err
	}

	sessionID, err := openSession(ops, resume, logger)
	if err != nil {
		return err
	}

	// Requests left non-terminal by an earlier crash cannot complete anymore;
	// mark them failed so polling does not wait on them forever.
	if recovered, recoverErr := reg.RecoverOrphans(sessionID); recoverErr != nil {
		logger.Warn("Orphan recovery failed: %v", recoverErr)
	} else if len(recovered) > 0 {
		logger.Info("Recovered %d orphaned requests from previous run", len(recovered))
	}

	mgr, err := session.NewManager(ops, sessionID, session.NewLexicalClassifier(cfg.ClosingPhrases))
	if err != nil {
		return err
	}

	loop := orchestrator.New(orchestrator.Deps{
		Ops:       ops,
		Registry:  reg,
		Executor:  exec,
		Catalogue: catalogue,
		Client:    client,
		Session:   mgr,
		Allocator: alloc,
		Counter:   newCounter(cfg, logger),
		Recorder:  recorder,
		Config:    cfg,
	})

	return runREPL(loop, exec, logger)
}

// runREPL reads turns until EOF. Completions are polled once per input cycle,
// keeping scheduling control in this loop rather than a timer.
func runREPL(loop *orchestrator.Loop, exec *registry.Executor, logger *logx.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println("conductor ready. Type your message, Ctrl-D to exit.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		for _, completion := range loop.PollCompletions(ctx) {
			fmt.Printf("\n[task %d] %s\n", completion.RequestID, completion.ResponseText)
		}

		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		input := scanner.Text()
		if input == "" {
			continue
		}

		turn, err := loop.ProcessTurn(ctx, input, nil)
		if err != nil {
			logger.Error("Turn failed: %v", err)
			continue
		}
		fmt.Println(turn.ResponseText)

		if ctx.Err() != nil {
			break
		}
	}

	// Drain in-flight tools, then surface whatever finished.
	exec.Wait()
	for _, completion := range loop.PollCompletions(context.Background()) {
		fmt.Printf("\n[task %d] %s\n", completion.RequestID, completion.ResponseText)
	}

	return scanner.Err()
}

// openSession resumes the most recent session or creates a fresh one.
func openSession(ops *persistence.DatabaseOperations, resume bool, logger *logx.Logger) (string, error) {
	if resume {
		latest, err := ops.GetLatestSession()
		if err == nil {
			logger.Info("Resuming session %s (%s)", latest.SessionID, latest.Title)
			return latest.SessionID, nil
		}
		logger.Warn("No session to resume, starting fresh: %v", err)
	}

	sessionID := persistence.GenerateSessionID()
	if err := ops.CreateSession(sessionID, "conversation"); err != nil {
		return "", err
	}
	logger.Info("Started session %s", sessionID)
	return sessionID, nil
}

// applyToolTimeout gives tools without an explicit timeout the configured one.
func applyToolTimeout(catalogue *tools.Catalogue, cfg *config.Config) {
	for _, name := range catalogue.Names() {
		if def, ok := catalogue.Get(name); ok && def.Timeout == 0 {
			def.Timeout = cfg.ToolTimeout()
		}
	}
}

func newCounter(cfg *config.Config, logger *logx.Logger) *tokens.Counter {
	counter, err := tokens.NewCounter(cfg.Model)
	if err != nil {
		logger.Warn("Tokenizer unavailable, using character estimates: %v", err)
		return nil
	}
	return counter
}
