package selector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// Describer produces the short human-readable label of an identification.
// Generation is delegated to an external text-generation collaborator; when
// that is absent or fails, the label falls back deterministically.
type Describer struct {
	logger *zap.Logger
	client schemas.DescriptionClient
}

// NewDescriber creates a Describer. client may be nil.
func NewDescriber(logger *zap.Logger, client schemas.DescriptionClient) *Describer {
	return &Describer{
		logger: logger.Named("describer"),
		client: client,
	}
}

// Describe returns a natural-language label for the element. It never
// fails: collaborator errors degrade to FallbackDescription.
func (d *Describer) Describe(ctx context.Context, facts *schemas.ElementFacts) string {
	if d.client != nil {
		description, err := d.client.Describe(ctx, *facts)
		if err == nil && strings.TrimSpace(description) != "" {
			return strings.TrimSpace(description)
		}
		if err != nil {
			d.logger.Debug("Description collaborator failed, using fallback", zap.Error(err))
		}
	}
	return FallbackDescription(facts)
}

// FallbackDescription builds the deterministic label: "<text> <tag>", then
// "<placeholder> field", then "<tag> element".
func FallbackDescription(facts *schemas.ElementFacts) string {
	if text := strings.TrimSpace(facts.TextContent); text != "" {
		// Truncate on a rune boundary; byte slicing could split a multi-byte
		// character.
		if runes := []rune(text); len(runes) > 40 {
			text = string(runes[:40])
		}
		return fmt.Sprintf("%s %s", text, facts.TagName)
	}
	if placeholder := strings.TrimSpace(facts.Attributes["placeholder"]); placeholder != "" {
		return fmt.Sprintf("%s field", placeholder)
	}
	return fmt.Sprintf("%s element", facts.TagName)
}
