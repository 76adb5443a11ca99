package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kestrelqa/selfheal/internal/config"
)

func TestBuildAllocatorOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.BrowserConfig
	}{
		{name: "default headless", cfg: config.BrowserConfig{Headless: true}},
		{name: "headful", cfg: config.BrowserConfig{Headless: false}},
		{name: "with custom args", cfg: config.BrowserConfig{
			Headless: true,
			Args:     []string{"--disable-web-security", "window-size=1280,800"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.cfg, zaptest.NewLogger(t))
			opts := m.buildAllocatorOptions()
			// Every build starts from the chromedp defaults and adds our flags
			// on top; custom args add one option each.
			assert.Greater(t, len(opts), len(chromedp.DefaultExecAllocatorOptions))
			if len(tt.cfg.Args) > 0 {
				base := NewManager(config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))
				assert.Len(t, opts, len(base.buildAllocatorOptions())+len(tt.cfg.Args))
			}
		})
	}
}

func TestNewPageRequiresStart(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zaptest.NewLogger(t))
	_, err := m.NewPage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestPageCloseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var closed int
	page := newPage(ctx, cancel, config.BrowserConfig{}, zaptest.NewLogger(t), func() { closed++ })

	require.NoError(t, page.Close(context.Background()))
	require.NoError(t, page.Close(context.Background()))
	assert.Equal(t, 1, closed, "onClose must fire exactly once")
	assert.Error(t, ctx.Err(), "closing cancels the tab context")
}

func TestRunActionsAfterClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	page := newPage(ctx, cancel, config.BrowserConfig{}, zaptest.NewLogger(t), nil)
	require.NoError(t, page.Close(context.Background()))

	_, err := page.EvaluateScript(context.Background(), "1 + 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestCombineContext(t *testing.T) {
	t.Run("should cancel when the second context is done", func(t *testing.T) {
		ctx2, cancel2 := context.WithCancel(context.Background())
		combined, cancel := combineContext(context.Background(), ctx2)
		defer cancel()

		cancel2()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe the caller cancellation")
		}
	})

	t.Run("should cancel when the first context is done", func(t *testing.T) {
		ctx1, cancel1 := context.WithCancel(context.Background())
		combined, cancel := combineContext(ctx1, context.Background())
		defer cancel()

		cancel1()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe the tab cancellation")
		}
	})

	t.Run("should inherit values from the first context", func(t *testing.T) {
		type key struct{}
		ctx1 := context.WithValue(context.Background(), key{}, "tab-state")
		combined, cancel := combineContext(ctx1, context.Background())
		defer cancel()

		assert.Equal(t, "tab-state", combined.Value(key{}))
	})
}
