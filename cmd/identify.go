// File: cmd/identify.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/internal/config"
	"github.com/kestrelqa/selfheal/internal/extractor"
	"github.com/kestrelqa/selfheal/internal/healing"
	"github.com/kestrelqa/selfheal/internal/observability"
	"github.com/kestrelqa/selfheal/internal/service"
)

var (
	identifyURL      string
	identifySelector string
	identifyX        float64
	identifyY        float64
	identifyTestCase string
	identifyStep     string
)

// newIdentifyCmd creates and returns the identify command.
func newIdentifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Identify an element on a live page and persist its selector record.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentify(cmd.Context(), appCfg, observability.GetLogger(),
				service.NewComponentFactory())
		},
	}

	cmd.Flags().StringVar(&identifyURL, "url", "", "Page URL to load.")
	cmd.Flags().StringVar(&identifySelector, "selector", "", "CSS selector locating the element.")
	cmd.Flags().Float64Var(&identifyX, "x", 0, "X coordinate locating the element.")
	cmd.Flags().Float64Var(&identifyY, "y", 0, "Y coordinate locating the element.")
	cmd.Flags().StringVar(&identifyTestCase, "test-case", "", "Test case id the record belongs to.")
	cmd.Flags().StringVar(&identifyStep, "step", "", "Step id the record belongs to.")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("test-case")
	_ = cmd.MarkFlagRequired("step")

	return cmd
}

// runIdentify contains the testable business logic for the command.
func runIdentify(
	ctx context.Context,
	cfg config.Interface,
	logger *zap.Logger,
	factory service.ComponentFactory,
) error {
	target := extractor.Target{Selector: identifySelector, X: identifyX, Y: identifyY}
	if identifySelector == "" {
		if identifyX == 0 && identifyY == 0 {
			return errors.New("either --selector or --x/--y coordinates are required")
		}
		target.UseCoords = true
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

	if err := page.Navigate(ctx, identifyURL); err != nil {
		return fmt.Errorf("failed to load page: %w", err)
	}

	record, err := components.Engine.IdentifyElement(ctx, page, healing.IdentifyRequest{
		TestCaseID: identifyTestCase,
		StepID:     identifyStep,
		Target:     target,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identification: %w", err)
	}
	fmt.Println(string(out))

	logger.Info("Identification persisted",
		zap.String("id", record.ID),
		zap.String("primary_selector", record.PrimarySelector))
	return nil
}
