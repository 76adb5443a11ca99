// File: cmd/heal.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelqa/selfheal/api/schemas"
	"github.com/kestrelqa/selfheal/internal/config"
	"github.com/kestrelqa/selfheal/internal/healing"
	"github.com/kestrelqa/selfheal/internal/observability"
	"github.com/kestrelqa/selfheal/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	reportPath string
	forceHeal  bool
	showEvents bool
)

// healReport is the on-disk failure report a test runner hands to the heal
// command.
type healReport struct {
	TestCaseID  string                 `json:"test_case_id"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	TriggerType schemas.TriggerType    `json:"trigger_type,omitempty"`
	Failure     schemas.FailureDetails `json:"failure"`
	Intent      schemas.OriginalIntent `json:"intent"`
}

// newHealCmd creates and returns the heal command.
func newHealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Run a healing session for a failed test step described by a failure report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeal(cmd.Context(), appCfg, observability.GetLogger(),
				service.NewComponentFactory(), reportPath, forceHeal, showEvents)
		},
	}

	cmd.Flags().StringVar(&reportPath, "report", "", "Path to the JSON failure report.")
	cmd.Flags().BoolVar(&forceHeal, "force", false, "Supersede an existing active session for the same step.")
	cmd.Flags().BoolVar(&showEvents, "events", false, "Print healing progress events as they occur.")
	_ = cmd.MarkFlagRequired("report")

	return cmd
}

// runHeal contains the testable business logic for the command.
func runHeal(
	ctx context.Context,
	cfg config.Interface,
	logger *zap.Logger,
	factory service.ComponentFactory,
	reportPath string,
	force bool,
	events bool,
) error {
	report, err := loadReport(reportPath)
	if err != nil {
		return err
	}

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown(context.Background())

	page, err := components.Browser.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page session: %w", err)
	}
	defer page.Close(context.Background())

	if report.Failure.PageURL != "" {
		if err := page.Navigate(ctx, report.Failure.PageURL); err != nil {
			return fmt.Errorf("failed to load failing page: %w", err)
		}
	}

	// Stream progress events while the session runs.
	g, gctx := errgroup.WithContext(ctx)
	var unsubscribe func()
	if events {
		var eventCh <-chan schemas.Event
		eventCh, unsubscribe = components.Broadcaster.Subscribe(
			schemas.ValidationChannel(report.TestCaseID))
		defer unsubscribe()
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case event, ok := <-eventCh:
					if !ok {
						return nil
					}
					line, err := json.Marshal(event)
					if err != nil {
						return err
					}
					fmt.Fprintln(os.Stderr, string(line))
				}
			}
		})
	}

	trigger := report.TriggerType
	if trigger == "" {
		trigger = schemas.TriggerManual
	}
	session, err := components.Engine.Heal(ctx, healing.TriggerRequest{
		TestCaseID:  report.TestCaseID,
		ExecutionID: report.ExecutionID,
		TriggerType: trigger,
		Failure:     report.Failure,
		Force:       force,
		Intent:      report.Intent,
	}, page)
	if errors.Is(err, healing.ErrDuplicateSession) {
		logger.Warn("An active healing session already covers this step.",
			zap.String("session_id", session.ID))
		return err
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	fmt.Println(string(out))

	// Closing the subscription drains the printer goroutine.
	if unsubscribe != nil {
		unsubscribe()
	}
	if err := g.Wait(); err != nil {
		logger.Warn("Event stream ended with an error.", zap.Error(err))
	}

	if session.Status != schemas.StatusCompleted {
		return fmt.Errorf("healing finished with status %s", session.Status)
	}
	return nil
}

// loadReport reads and validates the failure report file.
func loadReport(path string) (*healReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read failure report: %w", err)
	}
	var report healReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse failure report: %w", err)
	}
	if report.TestCaseID == "" || report.Failure.StepID == "" {
		return nil, errors.New("failure report must set test_case_id and failure.step_id")
	}
	return &report, nil
}
