package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/audit"
	"github.com/taskweave/taskweave/internal/compiler"
	"github.com/taskweave/taskweave/internal/events"
	"github.com/taskweave/taskweave/internal/gateway"
	"github.com/taskweave/taskweave/internal/resilience"
	"github.com/taskweave/taskweave/internal/scheduler"
	"github.com/taskweave/taskweave/internal/workflow"
)

var definitionFile string

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Execute a workflow from a definition file or a free-text request",
	Args:  cobra.ArbitraryArgs,
	RunE:  runWorkflow,
}

func init() {
	runCmd.Flags().StringVarP(&definitionFile, "file", "f", "", "workflow definition YAML file")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	def, err := resolveDefinition(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()

	var recorder *audit.Recorder
	var store *audit.SQLiteStore
	if cfg.AuditDB != "" {
		store, err = audit.NewSQLiteStore(ctx, cfg.AuditDB)
		if err != nil {
			return err
		}
		recorder = audit.NewRecorder(store, bus, logger)
	}

	breakers := resilience.NewBreakerRegistry(cfg.BreakerConfig(), logger)
	handler := resilience.NewHandler(cfg.RetryConfig(), breakers, bus, logger)
	gw := gateway.NewHTTPGateway(cfg.GatewayConfig(), logger)

	sched := scheduler.New(gw, handler, bus, logger, scheduler.Config{
		ConcurrencyLimit: cfg.ConcurrencyLimit,
	})

	handle, err := sched.Submit(ctx, def)
	if err != nil {
		return err
	}

	// A signal cancels the run; the run loop then drains in-flight tasks and
	// reports a cancelled summary instead of dying mid-flight.
	go func() {
		<-ctx.Done()
		handle.Cancel()
	}()

	summary, err := handle.Wait(context.Background())
	if err != nil {
		return err
	}

	bus.Close()
	if recorder != nil {
		recorder.Wait()
		store.Close()
	}

	printSummary(summary)
	if summary.Status != workflow.StatusCompleted {
		return fmt.Errorf("workflow %s finished %s", summary.WorkflowID, summary.Status)
	}
	return nil
}

// resolveDefinition loads the workflow from --file, or compiles the request
// text through the heuristic compiler.
func resolveDefinition(args []string) (*workflow.Definition, error) {
	if definitionFile != "" {
		return compiler.LoadFile(definitionFile)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("provide a request or --file with a workflow definition")
	}

	return compiler.NewKeywordCompiler().Compile(strings.Join(args, " "))
}

func printSummary(summary *scheduler.Summary) {
	fmt.Printf("workflow %s (%s): %s\n", summary.WorkflowID, summary.Name, summary.Status)
	if summary.Detail != nil {
		fmt.Printf("  detail: %v\n", summary.Detail)
	}
	for _, task := range summary.Tasks {
		line := fmt.Sprintf("  %-12s %-10s agent=%s", task.ID, task.Status, task.Agent)
		if task.Recovered {
			line += " (recovered)"
		}
		if task.Err != nil {
			line += fmt.Sprintf(" err=%v", task.Err)
		}
		if !task.StartedAt.IsZero() && !task.EndedAt.IsZero() {
			line += fmt.Sprintf(" took=%s", task.EndedAt.Sub(task.StartedAt).Round(time.Millisecond))
		}
		fmt.Println(line)
	}
}
