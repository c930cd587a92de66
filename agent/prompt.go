package agent

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/petal-labs/callstream/gong"
)

// TaskPrompt is the opening user turn.
const TaskPrompt = `Analyze this call transcript and provide a comprehensive summary.

Focus on: Key discussion points and decisions, Any objections or concerns raised, Action items and next steps, Overall call assessment

Use the bash tool to explore the transcript files before submitting your summary with the submit_summary tool.`

const systemPrompt = `You are an expert sales call analyst that reviews call transcripts and provides actionable insights.

Your task: Review the call context and use the tools to gather additional information before writing the summary. Then write a summary and extract objections, tasks, and key insights.

You have access to these tools:
1. **bash** - Execute commands to search and explore call transcript files
2. **submit_summary** - Submit the final analysis (call once, at the end)

## Filesystem structure will be provided in context

## Writing messages:
For writing summaries, use this structure:

Headline statement (1-2 sentences) to establish the context.
Then, provide a short section expanding on key discussion points:

*{POINT_NAME}*
- Goal: one sentence describing the objective
- Key Insight: one sentence outlining what was discussed
- Concerns/Risks: one sentence summarizing concerns or blockers

Finish with Next Steps calling out the action items and the owners.

## Objections and scoring:
When you identify an objection, score it on a scale of 0 to 100 based on how well it was handled:
- 0-50: Objection was not handled sufficiently
- 51-70: Objection was partially handled
- 71-90: Objection was well handled
- 91-100: Objection was perfectly handled`

// PromptInput is the call context rendered into the instructions.
type PromptInput struct {
	Meta     gong.MetaData
	Parties  []gong.Party
	FileTree string
	Company  string
	Now      time.Time
}

// Instructions builds the system prompt for one call.
func Instructions(in PromptInput) string {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n## Call Context\n\n")
	fmt.Fprintf(&b, "**Call:** %s\n", orUnknown(in.Meta.Title, "Untitled Call"))
	fmt.Fprintf(&b, "**Date:** %s\n", orUnknown(firstNonEmpty(in.Meta.Scheduled, in.Meta.Started), "Unknown"))
	fmt.Fprintf(&b, "**Duration:** %s\n", durationMinutes(in.Meta.Duration))
	fmt.Fprintf(&b, "**System:** %s\n", orUnknown(in.Meta.System, "Unknown"))

	b.WriteString("\n**Participants:**\n")
	for _, p := range in.Parties {
		fmt.Fprintf(&b, "- %s (%s)", orUnknown(p.Name, "Unknown"), orUnknown(p.Affiliation, "Unknown"))
		if p.Title != "" {
			fmt.Fprintf(&b, " - %s", p.Title)
		}
		b.WriteByte('\n')
	}

	b.WriteString("\n## Filesystem Structure\n```\n")
	b.WriteString(in.FileTree)
	b.WriteString("\n```\n\n")
	b.WriteString(`## Instructions

1. First, explore the call transcript using the bash tool
2. Search for key topics, objections, and action items
3. Analyze how objections were handled
4. Submit a comprehensive summary with the submit_summary tool

## Metadata
`)
	fmt.Fprintf(&b, "- Current date: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Company: %s", in.Company)
	return b.String()
}

func durationMinutes(seconds float64) string {
	if seconds <= 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%d minutes", int(math.Round(seconds/60)))
}

func orUnknown(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
