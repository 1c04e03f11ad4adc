package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"spectra/application/orchestrator"
	"spectra/config"
	"spectra/domain/entities"
)

// TerminalInterface is the interactive front end: it reads intents
// from stdin and drives the orchestrator.
type TerminalInterface struct {
	orch   *orchestrator.Orchestrator
	logger *logrus.Logger
	reader *bufio.Reader

	// sessionID carries the current session across intents so
	// consecutive instructions share browser state.
	sessionID string
}

func NewTerminalInterface(cfg config.Config) (*TerminalInterface, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	orch := orchestrator.New(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := orch.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	return &TerminalInterface{
		orch:   orch,
		logger: logger,
		reader: bufio.NewReader(os.Stdin),
	}, nil
}

func (t *TerminalInterface) Run() error {
	defer t.Close()

	fmt.Println("Spectra")
	fmt.Println("=======")
	fmt.Println("Type an instruction, or /help for commands")
	fmt.Println()

	for {
		fmt.Print("> ")
		input, err := t.reader.ReadString('\n')
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch input {
		case "/quit", "/exit", "quit", "exit", "q":
			fmt.Println("Bye")
			return nil
		case "/help":
			t.printHelp()
			continue
		case "/status":
			t.printStatus()
			continue
		case "/sessions":
			t.printSessions()
			continue
		case "/new":
			t.sessionID = ""
			fmt.Println("Next intent starts a fresh session")
			continue
		}
		if strings.HasPrefix(input, "/") {
			fmt.Printf("Unknown command %s, try /help\n", input)
			continue
		}

		t.execute(input)
	}
}

func (t *TerminalInterface) execute(text string) {
	fmt.Printf("\nExecuting: %s\n", text)

	result, err := t.orch.ExecuteIntent(context.Background(), text, t.sessionID)
	if err != nil {
		fmt.Printf("Failed: %v\n\n", err)
		return
	}

	t.sessionID = result.SessionID

	if result.Success {
		fmt.Printf("Done in %s (%d actions", result.ExecutionTime.Round(time.Millisecond), result.ActionsPerformed)
	} else {
		fmt.Printf("Failed after %s (%d actions", result.ExecutionTime.Round(time.Millisecond), result.ActionsPerformed)
	}
	if len(result.Validations) > 0 {
		fmt.Printf(", %d validations", len(result.Validations))
	}
	if len(result.Screenshots) > 0 {
		fmt.Printf(", %d screenshots", len(result.Screenshots))
	}
	fmt.Print(")\n")

	if result.Error != "" {
		fmt.Printf("  %s\n", result.Error)
	}
	for _, report := range result.Validations {
		if report.Result != entities.ValidationSuccess {
			fmt.Printf("  validation %s: %s\n", report.Result, report.Message)
		}
	}
	fmt.Println()
}

func (t *TerminalInterface) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /status    system health and metrics")
	fmt.Println("  /sessions  list sessions")
	fmt.Println("  /new       start the next intent in a fresh session")
	fmt.Println("  /quit      exit")
	fmt.Println("Anything else is treated as an instruction, for example:")
	fmt.Println("  go to https://example.com")
	fmt.Println("  search for wireless headphones")
}

func (t *TerminalInterface) printStatus() {
	status := t.orch.GetSystemStatus()

	fmt.Printf("Uptime: %s  queue: %d  active executions: %d  sessions in memory: %d\n",
		status.Uptime.Round(time.Second), status.QueueSize, status.ActiveExecutions, status.ActiveContexts)

	names := make([]string, 0, len(status.Components))
	for name := range status.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		component := status.Components[name]
		line := fmt.Sprintf("  %-10s %s", name, component.Status)
		if component.LastError != "" {
			line += "  (" + component.LastError + ")"
		}
		fmt.Println(line)
	}

	m := status.Metrics
	fmt.Printf("Intents: %d total, %d succeeded, %d failed, avg %s\n",
		m.TotalIntents, m.SucceededIntents, m.FailedIntents, m.AverageDuration.Round(time.Millisecond))
}

func (t *TerminalInterface) printSessions() {
	sessions, err := t.orch.GetSessionList("")
	if err != nil {
		fmt.Printf("Failed to list sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return
	}

	for _, s := range sessions {
		marker := " "
		if s.ID == t.sessionID {
			marker = "*"
		}
		fmt.Printf("%s %s  %-10s %-24s views=%d actions=%d  %s\n",
			marker, s.ID[:8], s.Status, truncate(s.Name, 24), s.PageViews, s.Actions, s.URL)
	}
}

func (t *TerminalInterface) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return t.orch.Shutdown(ctx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
