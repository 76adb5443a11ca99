package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelqa/selfheal/api/schemas"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.9, cfg.Healing().Thresholds.AutoApply)
	assert.Equal(t, 0.3, cfg.Healing().Thresholds.MinViable)
	assert.Equal(t, 8, cfg.Healing().TotalMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Healing().AttemptTimeout)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 100, cfg.Broadcast().SubscriberBufferSize)
}

func TestViperValuesReachNestedFields(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("engine.worker_concurrency", 3)
	v.Set("healing.thresholds.auto_apply", 0.95)
	v.Set("logger.service_name", "selfheal-ci")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine().WorkerConcurrency)
	assert.Equal(t, 0.95, cfg.Healing().Thresholds.AutoApply)
	assert.Equal(t, "selfheal-ci", cfg.Logger().ServiceName)
}

func TestValidateRejectsUnorderedThresholds(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetHealingAutoApplyThreshold(0.5) // equal to attempt_healing

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly decreasing")
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetHealingAutoApplyThreshold(1.5)

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsNegativeBudget(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetHealingTotalMaxAttempts(-1)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt budgets")
}

func TestValidateRejectsEmptyPriority(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("healing.strategy_priority", []string{})

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy_priority")
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetEngineWorkerConcurrency(0)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_concurrency")
}

func TestSnapshotMapsPolicy(t *testing.T) {
	cfg := NewDefaultConfig()
	healing := cfg.Healing()
	healing.ExcludedStrategies = map[string][]string{
		"timeout": {"visual_recognition"},
	}

	snapshot := healing.Snapshot()
	assert.Equal(t, schemas.ConfidenceThresholds{
		AutoApply:      0.9,
		SuggestReview:  0.7,
		AttemptHealing: 0.5,
		MinViable:      0.3,
	}, snapshot.Thresholds)
	assert.Equal(t, []schemas.StrategyName{
		schemas.StrategySemanticMatching,
		schemas.StrategyVisualRecognition,
		schemas.StrategyContextAnalysis,
		schemas.StrategyMLPrediction,
		schemas.StrategyFallbackSearch,
	}, snapshot.StrategyPriority)
	assert.Equal(t,
		[]schemas.StrategyName{schemas.StrategyVisualRecognition},
		snapshot.ExcludedStrategies[schemas.FailureTimeout])

	// Exclusions subtract from the priority order.
	eligible := snapshot.StrategiesFor(schemas.FailureTimeout)
	assert.NotContains(t, eligible, schemas.StrategyVisualRecognition)
	assert.Len(t, eligible, 4)

	// Other failure types keep the full set.
	assert.Len(t, snapshot.StrategiesFor(schemas.FailureElementNotFound), 5)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("SELFHEAL_DATABASE_URL", "postgres://selfheal:secret@db/selfheal")

	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "postgres://selfheal:secret@db/selfheal", cfg.Database().URL)
}
