package gong

import (
	"fmt"
	"regexp"
	"strings"
)

// NoTranscript is the markdown produced when the API returned no transcript.
const NoTranscript = "# No transcript available"

// Markdown renders a transcript with the call's metadata and participants.
func Markdown(resp TranscriptResponse, call CallData) string {
	if len(resp.CallTranscripts) == 0 {
		return NoTranscript
	}
	transcript := resp.CallTranscripts[0]

	speakers := make(map[string]Party, len(call.Parties))
	for _, p := range call.Parties {
		if p.SpeakerID != "" {
			speakers[p.SpeakerID] = p
		}
	}

	var b strings.Builder
	b.WriteString("# Call Transcript\n\n")

	meta := call.MetaData
	b.WriteString("## Call Information\n\n")
	fmt.Fprintf(&b, "- **Call ID:** %s\n", meta.ID)
	writeItem(&b, "Title", meta.Title)
	writeItem(&b, "Scheduled", meta.Scheduled)
	writeItem(&b, "Started", meta.Started)
	if meta.Duration > 0 {
		writeItem(&b, "Duration", FormatDuration(meta.Duration))
	}
	writeItem(&b, "System", meta.System)
	b.WriteString("\n")

	b.WriteString("## Participants\n\n")
	for _, p := range call.Parties {
		fmt.Fprintf(&b, "- **%s** (%s)", orDefault(p.Name, "Unknown"), orDefault(p.Affiliation, "Unknown"))
		if p.EmailAddress != "" {
			b.WriteString(" - " + p.EmailAddress)
		}
		if p.Title != "" {
			b.WriteString(" - " + p.Title)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("## Transcript\n\n")
	topic := ""
	for _, seg := range transcript.Transcript {
		if seg.Topic != topic {
			topic = seg.Topic
			fmt.Fprintf(&b, "### %s\n\n", orDefault(topic, "Conversation"))
		}

		speaker, known := speakers[seg.SpeakerID]
		if known {
			fmt.Fprintf(&b, "**%s** %s\n\n", orDefault(speaker.Name, "Speaker "+seg.SpeakerID), speakerInfo(speaker))
		} else {
			fmt.Fprintf(&b, "**Speaker %s** (ID: %s)\n\n", seg.SpeakerID, seg.SpeakerID)
		}

		for _, s := range seg.Sentences {
			fmt.Fprintf(&b, "> [%s] %s\n\n", FormatTimestamp(s.Start), s.Text)
		}
	}
	return b.String()
}

func writeItem(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "- **%s:** %s\n", label, value)
	}
}

func speakerInfo(p Party) string {
	var parts []string
	for _, s := range []string{p.Affiliation, p.EmailAddress, p.Title} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "_(" + strings.Join(parts, ", ") + ")_"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// FormatTimestamp renders a millisecond offset as mm:ss.
func FormatTimestamp(ms int64) string {
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// FormatDuration renders seconds as "1h 2m 3s", "2m 3s" or "3s".
func FormatDuration(seconds float64) string {
	total := int64(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]`)

// Filename is the sandbox file name for a call transcript.
func Filename(meta MetaData) string {
	title := orDefault(meta.Title, "call")
	return meta.ID + "-" + nonSlug.ReplaceAllString(strings.ToLower(title), "-") + ".md"
}
