package ollama

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	categorizationBodyLimit = 2000
	scoringBodyLimit        = 3000
)

// truncate schneidet an der Byte-Grenze, aber nie mitten in einer Rune.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// buildCategorizationPrompt baut den Klassifikations-Prompt: bestehende
// Kategorien als Wiederverwendungs-Kandidaten, Hierarchie als Kontext,
// versteckte Kategorien als Negativliste.
func buildCategorizationPrompt(title, body string, existing []string, hierarchy map[string][]string, hidden []string) string {
	var b strings.Builder

	b.WriteString("Categorize this article into 1-4 topic categories.\n\n")
	b.WriteString("**Instructions:**\n")
	b.WriteString("- Choose from the existing categories list below (reuse these whenever possible)\n")
	b.WriteString("- Only suggest new categories (at most 2) if none of the existing ones fit well\n")
	b.WriteString("- When suggesting a new category you may name one existing parent category it belongs under\n")
	b.WriteString("- Return categories that accurately describe the article's main topics\n\n")

	sorted := append([]string(nil), existing...)
	sort.Strings(sorted)
	fmt.Fprintf(&b, "**Existing categories:** %s\n", strings.Join(sorted, ", "))

	if len(hierarchy) > 0 {
		b.WriteString("\n**Category groups (parent: children):**\n")
		parents := make([]string, 0, len(hierarchy))
		for parent := range hierarchy {
			parents = append(parents, parent)
		}
		sort.Strings(parents)
		for _, parent := range parents {
			fmt.Fprintf(&b, "- %s: %s\n", parent, strings.Join(hierarchy[parent], ", "))
		}
	}

	if len(hidden) > 0 {
		fmt.Fprintf(&b, "\n**Do NOT use or suggest these blocked categories:** %s\n", strings.Join(hidden, ", "))
	}

	fmt.Fprintf(&b, "\n**Article:**\nTitle: %s\n\nContent: %s\n\nCategorize this article now.",
		title, truncate(body, categorizationBodyLimit))

	return b.String()
}

// buildScoringPrompt baut den Scoring-Prompt aus Artikel und Präferenzen.
func buildScoringPrompt(title, body, interests, antiInterests string) string {
	if interests == "" {
		interests = "Not specified"
	}
	if antiInterests == "" {
		antiInterests = "Not specified"
	}

	return fmt.Sprintf(`Score this article based on user preferences.

**User Interests:**
%s

**User Anti-Interests:**
%s

**Article:**
Title: %s

Content: %s

**Scoring Instructions:**
- Interest Score (0-10): How well does this match the user's interests?
  - 0-2: Strongly misaligned or explicitly avoided topic
  - 3-4: Somewhat misaligned or low relevance
  - 5-6: Neutral or moderate relevance
  - 7-8: Good match with interests
  - 9-10: Excellent match, highly relevant

- Quality Score (0-10): Assess content quality regardless of interest
  - 0-2: Clickbait, spam, or very low quality
  - 3-4: Poor quality or shallow content
  - 5-6: Average quality
  - 7-8: Good quality, well-written
  - 9-10: Excellent quality, insightful

Provide:
1. Interest score (0-10)
2. Quality score (0-10)
3. Brief reasoning (1-2 sentences explaining your scores)

Score this article now.`, interests, antiInterests, title, truncate(body, scoringBodyLimit))
}

// JSON-Schemas für das "format"-Feld der Chat-API; erzwingt strukturierte
// Antworten statt Freitext.
var categorizeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"categories": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"suggested_new": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"suggested_parent": map[string]any{"type": "string"},
	},
	"required": []string{"categories"},
}

var scoreSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"interest_score": map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
		"quality_score":  map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
		"reasoning":      map[string]any{"type": "string"},
	},
	"required": []string{"interest_score", "quality_score", "reasoning"},
}
