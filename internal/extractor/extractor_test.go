package extractor

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakePage is a canned-response PageSession for extraction tests.
type fakePage struct {
	result     string
	err        error
	lastScript string
}

func (p *fakePage) ID() string                                 { return "fake-page" }
func (p *fakePage) Navigate(context.Context, string) error     { return nil }
func (p *fakePage) Click(context.Context, string) error        { return nil }
func (p *fakePage) Type(context.Context, string, string) error { return nil }
func (p *fakePage) Close(context.Context) error                { return nil }

func (p *fakePage) CaptureScreenshot(context.Context) ([]byte, error) {
	return nil, nil
}

func (p *fakePage) EvaluateScript(_ context.Context, script string) (stdjson.RawMessage, error) {
	p.lastScript = script
	if p.err != nil {
		return nil, p.err
	}
	return stdjson.RawMessage(p.result), nil
}

func TestExtractBySelector(t *testing.T) {
	page := &fakePage{result: `{
		"tag_name": "button",
		"attributes": {"id": "submit-btn", "data-testid": "submit"},
		"text_content": "  Submit  ",
		"bounds": {"x": 10, "y": 20, "width": 80, "height": 30},
		"ancestor_tags": ["form", "div", "body"],
		"sibling_text": ["Cancel", "Reset", "Help", "Extra"],
		"aria_labels": ["submit the form"],
		"role": "button",
		"visible": true,
		"interactive": true
	}`}

	e := New(zaptest.NewLogger(t))
	facts, err := e.Extract(context.Background(), page, Target{Selector: "#submit-btn"})
	require.NoError(t, err)

	assert.Contains(t, page.lastScript, `document.querySelector("#submit-btn")`)
	assert.Equal(t, "button", facts.TagName)
	assert.Equal(t, "Submit", facts.TextContent, "text is trimmed")
	assert.Len(t, facts.AncestorTags, 2, "at most two ancestors survive")
	assert.Len(t, facts.SiblingText, 3, "at most three sibling snippets survive")
	assert.Equal(t, 80.0, facts.Bounds.Width)
	assert.True(t, facts.Interactive)
}

func TestExtractByCoordinates(t *testing.T) {
	page := &fakePage{result: `{"tag_name": "a", "attributes": {}, "visible": true}`}

	e := New(zaptest.NewLogger(t))
	facts, err := e.Extract(context.Background(), page, Target{X: 100.5, Y: 240, UseCoords: true})
	require.NoError(t, err)

	assert.Contains(t, page.lastScript, "document.elementFromPoint(100.50, 240.00)")
	assert.Equal(t, "a", facts.TagName)
	assert.NotNil(t, facts.Attributes)
}

func TestExtractNothingResolves(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	_, err := e.Extract(context.Background(), &fakePage{result: `null`}, Target{Selector: "#ghost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.Contains(t, err.Error(), "#ghost")

	_, err = e.Extract(context.Background(), &fakePage{result: `null`}, Target{X: 5, Y: 6, UseCoords: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestExtractScriptFailure(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	_, err := e.Extract(context.Background(), &fakePage{err: errors.New("page crashed")}, Target{Selector: "a"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrElementNotFound)
}

func TestExtractMalformedPayload(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	_, err := e.Extract(context.Background(), &fakePage{result: `{"tag_name": 42}`}, Target{Selector: "a"})
	require.Error(t, err)
}
