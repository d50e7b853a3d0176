package query

import (
	"fmt"
	"strings"

	"github.com/llasta/ragcore/internal/models"
	"github.com/llasta/ragcore/internal/rerank"
	"github.com/llasta/ragcore/pkg/utils"
)

// AssembleContext fits passages into the token budget. When the budget would
// be exceeded, passages are dropped starting from the lowest rerank score
// until the remainder fits. The retained passages keep their rank order, and
// each yields a citation with source_uri, page, and score.
func AssembleContext(passages []rerank.Scored, tokenBudget int) ([]rerank.Scored, []models.Citation) {
	kept := make([]rerank.Scored, len(passages))
	copy(kept, passages)

	if tokenBudget > 0 {
		total := 0
		for _, p := range kept {
			total += utils.TokenCount(p.Text)
		}
		for total > tokenBudget && len(kept) > 0 {
			lowest := 0
			for i := 1; i < len(kept); i++ {
				if kept[i].RerankScore < kept[lowest].RerankScore {
					lowest = i
				}
			}
			total -= utils.TokenCount(kept[lowest].Text)
			kept = append(kept[:lowest], kept[lowest+1:]...)
		}
	}

	citations := make([]models.Citation, 0, len(kept))
	for _, p := range kept {
		citations = append(citations, models.Citation{
			SourceURI: metadataString(p.Metadata, "source_uri"),
			Page:      metadataInt(p.Metadata, "page"),
			Score:     p.RerankScore,
		})
	}
	return kept, citations
}

// BuildContextBlock renders retained passages as a numbered block with source
// hints, ready to inject as a system message.
func BuildContextBlock(passages []rerank.Scored) string {
	if len(passages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You have access to the following context passages. Cite them when relevant.\n")
	for i, p := range passages {
		src := metadataString(p.Metadata, "source_uri")
		if src == "" {
			src = "unknown"
		}
		if page := metadataInt(p.Metadata, "page"); page > 0 {
			b.WriteString(fmt.Sprintf("\n[%d] Source: %s p.%d\n", i+1, src, page))
		} else {
			b.WriteString(fmt.Sprintf("\n[%d] Source: %s\n", i+1, src))
		}
		b.WriteString(strings.TrimSpace(p.Text))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// InjectContext prepends the context block as a system message. An existing
// leading system message stays first; user content is never modified.
func InjectContext(messages []models.ChatMessage, contextBlock string) []models.ChatMessage {
	if contextBlock == "" {
		return messages
	}
	systemMsg := models.ChatMessage{
		Role: "system",
		Content: "You are a helpful assistant that answers using the retrieved context. " +
			"If the context is not sufficient, say so rather than guessing.\n\n" + contextBlock,
	}
	if len(messages) > 0 && messages[0].Role == "system" {
		out := make([]models.ChatMessage, 0, len(messages)+1)
		out = append(out, messages[0], systemMsg)
		return append(out, messages[1:]...)
	}
	return append([]models.ChatMessage{systemMsg}, messages...)
}

func metadataString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func metadataInt(m map[string]interface{}, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
