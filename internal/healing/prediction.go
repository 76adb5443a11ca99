package healing

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// predictionStrategy delegates candidate generation to the external
// learned-prediction collaborator. Its returned confidence is
// authoritative input; the engine does not re-derive it.
type predictionStrategy struct {
	logger  *zap.Logger
	client  schemas.PredictionClient
	limiter *rate.Limiter
}

func newPredictionStrategy(logger *zap.Logger, client schemas.PredictionClient, callsPerSecond float64) *predictionStrategy {
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	return &predictionStrategy{
		logger:  logger.Named("ml_prediction"),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), 1),
	}
}

func (s *predictionStrategy) Name() schemas.StrategyName { return schemas.StrategyMLPrediction }

func (s *predictionStrategy) Attempt(ctx context.Context, hc HealContext) (*StrategyResult, error) {
	if s.client == nil {
		return &StrategyResult{
			Confidence: 0,
			Reasoning:  "no prediction collaborator configured",
		}, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	response, err := s.client.PredictSelector(ctx, schemas.PredictionRequest{
		Identification: hc.Identification,
		Failure:        hc.Failure,
		PageURL:        hc.Failure.PageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("prediction collaborator failed: %w", err)
	}
	if response.Selector == "" {
		return &StrategyResult{
			Confidence: 0,
			Reasoning:  "prediction collaborator returned no candidate",
		}, nil
	}

	confidence := response.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	selType := response.SelectorType
	if selType == "" {
		selType = schemas.SelectorHybrid
	}
	reasoning := response.Reasoning
	if reasoning == "" {
		reasoning = "externally predicted replacement selector"
	}

	update := newUpdate(hc, response.Selector, selType, confidence, reasoning, "learned prediction", nil)
	if response.AccessibilityImpact != "" {
		update.SemanticPreservation.AccessibilityImpact = response.AccessibilityImpact
	}

	s.logger.Debug("Prediction received",
		zap.String("selector", response.Selector),
		zap.Float64("confidence", confidence))
	return &StrategyResult{
		Updates:    []schemas.SelectorUpdate{update},
		Confidence: confidence,
		Reasoning:  reasoning,
	}, nil
}
