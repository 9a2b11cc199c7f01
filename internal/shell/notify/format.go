package notify

import (
	"fmt"
	"html"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
)

// Payload limits imposed by the receiving services.
const (
	telegramMaxMessage = 4096
	telegramMaxTrace   = 1000
	jsonMaxTrace       = 2000
	slackMaxFields     = 5
	discordMaxDesc     = 2000
	discordMaxFields   = 5
	discordMaxValue    = 200
	discordMaxTrace    = 500
	defaultFooter      = "watchdog"
)

// =============================================================================
// Telegram HTML
// =============================================================================

// FormatHTML renders ev as Telegram HTML, truncated to the message limit.
func FormatHTML(ev domain.Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s <b>[%s]</b> [%s]", ev.Severity.Emoji(), ev.Severity, html.EscapeString(ev.Category))
	if ev.Source != "" {
		fmt.Fprintf(&b, " <i>(%s)</i>", html.EscapeString(ev.Source))
	}
	if ev.Title != "" {
		fmt.Fprintf(&b, "\n<b>%s</b>", html.EscapeString(ev.Title))
	}
	if ev.Message != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(ev.Message))
	}

	if len(ev.Metadata) > 0 {
		b.WriteString("\n\n<b>Metadata:</b>")
		for _, k := range sortedKeys(ev.Metadata) {
			fmt.Fprintf(&b, "\n  • %s: %s", html.EscapeString(k), html.EscapeString(fmt.Sprint(ev.Metadata[k])))
		}
	}

	if ev.Trace != "" {
		fmt.Fprintf(&b, "\n\n<pre>%s</pre>", html.EscapeString(truncate(ev.Trace, telegramMaxTrace)))
	}

	fmt.Fprintf(&b, "\n\n<i>%s</i>", ev.Timestamp.UTC().Format("15:04:05 UTC"))

	text := b.String()
	if runes := []rune(text); len(runes) > telegramMaxMessage {
		text = string(runes[:telegramMaxMessage-6]) + "\n…"
	}
	return text
}

// =============================================================================
// Webhook Payloads
// =============================================================================

// PayloadFormat selects the webhook body layout.
type PayloadFormat string

const (
	FormatJSON    PayloadFormat = "json"
	FormatSlack   PayloadFormat = "slack"
	FormatDiscord PayloadFormat = "discord"
)

// ParsePayloadFormat validates a format name. Empty and "raw" mean json.
func ParsePayloadFormat(s string) (PayloadFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json", "raw":
		return FormatJSON, nil
	case "slack":
		return FormatSlack, nil
	case "discord":
		return FormatDiscord, nil
	default:
		return "", fmt.Errorf("unknown webhook format %q (available: json, slack, discord)", s)
	}
}

// Build returns the payload for ev in this format.
func (f PayloadFormat) Build(ev domain.Event) any {
	switch f {
	case FormatSlack:
		return slackPayload(ev)
	case FormatDiscord:
		return discordPayload(ev)
	default:
		return jsonPayload(ev)
	}
}

// EventRecord is the JSON shape of an event used by the file log and the
// raw webhook format.
type EventRecord struct {
	ID        string         `json:"id"`
	Severity  string         `json:"severity"`
	Category  string         `json:"category"`
	Source    string         `json:"source,omitempty"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Traceback string         `json:"traceback,omitempty"`
}

func jsonPayload(ev domain.Event) EventRecord {
	return EventRecord{
		ID:        ev.ID,
		Severity:  ev.Severity.String(),
		Category:  ev.Category,
		Source:    ev.Source,
		Title:     ev.Title,
		Message:   ev.Message,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Metadata:  ev.Metadata,
		Traceback: truncate(ev.Trace, jsonMaxTrace),
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
	Fields []slackField `json:"fields,omitempty"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

var slackColors = map[domain.Severity]string{
	domain.SeverityDebug:    "#808080",
	domain.SeverityInfo:     "#36a64f",
	domain.SeverityWarning:  "#ff9900",
	domain.SeverityError:    "#ff0000",
	domain.SeverityCritical: "#990000",
}

func slackPayload(ev domain.Event) slackMessage {
	color, ok := slackColors[ev.Severity]
	if !ok {
		color = "#808080"
	}

	var fields []slackField
	for _, k := range sortedKeys(ev.Metadata) {
		if len(fields) == slackMaxFields {
			break
		}
		fields = append(fields, slackField{Title: k, Value: fmt.Sprint(ev.Metadata[k]), Short: true})
	}

	return slackMessage{Attachments: []slackAttachment{{
		Color:  color,
		Title:  headline(ev),
		Text:   ev.Message,
		Footer: footer(ev),
		TS:     ev.Timestamp.Unix(),
		Fields: fields,
	}}}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Footer      *discordFooter `json:"footer,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

var discordColors = map[domain.Severity]int{
	domain.SeverityDebug:    0x808080,
	domain.SeverityInfo:     0x36A64F,
	domain.SeverityWarning:  0xFF9900,
	domain.SeverityError:    0xFF0000,
	domain.SeverityCritical: 0x990000,
}

func discordPayload(ev domain.Event) discordMessage {
	color, ok := discordColors[ev.Severity]
	if !ok {
		color = 0x808080
	}

	embed := discordEmbed{
		Title:       headline(ev),
		Description: truncate(ev.Message, discordMaxDesc),
		Color:       color,
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339),
	}
	if ev.Source != "" {
		embed.Footer = &discordFooter{Text: ev.Source}
	}
	for _, k := range sortedKeys(ev.Metadata) {
		if len(embed.Fields) == discordMaxFields {
			break
		}
		embed.Fields = append(embed.Fields, discordField{
			Name:   k,
			Value:  truncate(fmt.Sprint(ev.Metadata[k]), discordMaxValue),
			Inline: true,
		})
	}
	if ev.Trace != "" {
		embed.Fields = append(embed.Fields, discordField{
			Name:  "Traceback",
			Value: "```" + truncate(ev.Trace, discordMaxTrace) + "```",
		})
	}

	return discordMessage{Embeds: []discordEmbed{embed}}
}

// =============================================================================
// Helpers
// =============================================================================

func headline(ev domain.Event) string {
	title := ev.Title
	if title == "" {
		title = ev.Category
	}
	return fmt.Sprintf("%s [%s] %s", ev.Severity.Emoji(), ev.Severity, title)
}

func footer(ev domain.Event) string {
	if ev.Source != "" {
		return ev.Source
	}
	return defaultFooter
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
