package orchestrator

import (
	"strings"

	"github.com/google/uuid"

	"github.com/madfam-io/penny/internal/agent"
)

// minArtifactChars is the minimum fenced-block body length that triggers
// artifact emission, per spec.md §4.7 step 7 ("fenced code blocks above a
// minimum length").
const minArtifactChars = 40

// langToArtifactType maps a fenced code block's language hint to the
// artifact type vocabulary spec.md §4.7 names (html|css|code|json|markdown).
// Unrecognized or absent hints fall back to "code".
var langToArtifactType = map[string]string{
	"html":       "html",
	"htm":        "html",
	"css":        "css",
	"json":       "json",
	"md":         "markdown",
	"markdown":   "markdown",
	"javascript": "code",
	"js":         "code",
	"typescript": "code",
	"ts":         "code",
	"python":     "code",
	"py":         "code",
	"go":         "code",
	"bash":       "code",
	"sh":         "code",
	"sql":        "code",
}

// chartHeuristicWords additionally enable artifact emission when the
// assistant's prose (outside any fence) requests a visualization, per
// spec.md §4.7 step 7's "heuristic triggers".
var chartHeuristicWords = []string{"chart", "diagram", "table", "graph", "plot"}

// ExtractArtifacts scans assistant content for fenced code blocks and emits
// an agent.Artifact per block that clears minArtifactChars. It never
// returns an error: a parse miss just means no artifacts, not a failure.
func ExtractArtifacts(content string) []agent.Artifact {
	var artifacts []agent.Artifact
	lines := strings.Split(content, "\n")

	var (
		inFence bool
		lang    string
		body    strings.Builder
	)

	flush := func() {
		text := body.String()
		if len(strings.TrimSpace(text)) >= minArtifactChars {
			artifacts = append(artifacts, newArtifact(lang, text))
		}
		body.Reset()
		lang = ""
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				flush()
				inFence = false
				continue
			}
			inFence = true
			lang = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))
			continue
		}
		if inFence {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	// An unterminated fence still has content worth capturing.
	if inFence {
		flush()
	}

	return artifacts
}

// WantsVisualArtifact reports whether the user's prompt heuristically
// requests a chart/table/diagram, independent of fenced-block length.
func WantsVisualArtifact(userContent string) bool {
	lower := strings.ToLower(userContent)
	for _, word := range chartHeuristicWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func newArtifact(lang, body string) agent.Artifact {
	artifactType, ok := langToArtifactType[lang]
	if !ok {
		artifactType = "code"
	}
	id := "artifact_" + uuid.NewString()
	return agent.Artifact{
		ID:       id,
		Type:     artifactType,
		MimeType: mimeTypeFor(artifactType),
		Filename: id + extensionFor(lang, artifactType),
		Data:     []byte(body),
	}
}

func mimeTypeFor(artifactType string) string {
	switch artifactType {
	case "html":
		return "text/html"
	case "css":
		return "text/css"
	case "json":
		return "application/json"
	case "markdown":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

func extensionFor(lang, artifactType string) string {
	switch artifactType {
	case "html":
		return ".html"
	case "css":
		return ".css"
	case "json":
		return ".json"
	case "markdown":
		return ".md"
	default:
		if lang != "" {
			return "." + lang
		}
		return ".txt"
	}
}
