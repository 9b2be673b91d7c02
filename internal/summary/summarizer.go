package summary

import (
	"context"
	"strings"

	"voxnote/internal/models"
)

// Summarizer condenses a transcript. A failure here is never pipeline-fatal;
// the caller treats it as "no summary produced".
type Summarizer interface {
	Summarize(ctx context.Context, text, language string, level models.SummaryLevel) (string, error)
}

type promptPair struct {
	system string
	user   string
}

// detailedSections are the headers a detailed summary must carry, in order.
var detailedSections = []string{"Overview", "Key Points", "Decisions", "Action Items"}

func promptFor(level models.SummaryLevel, language string) promptPair {
	langClause := "Respond in the same language as the transcript."
	if language != "" {
		langClause = "Respond in " + language + "."
	}

	switch level {
	case models.SummaryDetailed:
		return promptPair{
			system: "You summarize voice note transcriptions. Produce a structured summary with exactly these markdown sections: " +
				strings.Join(detailedSections, ", ") + ". Keep each section brief. " + langClause,
			user: "Summarize this voice note transcription:\n\n",
		}
	default:
		return promptPair{
			system: "You summarize voice note transcriptions. Reply with at most three short sentences capturing the essential message. " +
				"No preamble, no bullet points. " + langClause,
			user: "Summarize this voice note transcription in 2-3 sentences:\n\n",
		}
	}
}

// enforceShape post-processes a model response so the output matches the
// requested level even when the model drifts.
func enforceShape(text string, level models.SummaryLevel) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if level == models.SummaryDetailed {
		return ensureSections(text)
	}
	return capSentences(text, 3)
}

// capSentences truncates text to at most n sentences.
func capSentences(text string, n int) string {
	var (
		count int
		end   = len(text)
	)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				end = i + 1
				break
			}
		}
	}
	return strings.TrimSpace(text[:end])
}

// ensureSections guarantees every required header appears; missing sections
// are synthesized empty at the end so consumers can rely on the shape.
func ensureSections(text string) string {
	var b strings.Builder
	b.WriteString(text)
	for _, section := range detailedSections {
		if containsHeader(text, section) {
			continue
		}
		b.WriteString("\n\n## ")
		b.WriteString(section)
		b.WriteString("\n-")
	}
	return b.String()
}

func containsHeader(text, section string) bool {
	lower := strings.ToLower(text)
	needle := strings.ToLower(section)
	for _, prefix := range []string{"## ", "# ", "**"} {
		if strings.Contains(lower, prefix+needle) {
			return true
		}
	}
	return false
}
