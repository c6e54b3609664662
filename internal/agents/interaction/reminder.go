package interaction

import (
	"regexp"
	"strings"
)

// ReminderKind classifies an inbound agent message for the reminder
// fast path.
type ReminderKind int

const (
	ReminderNone ReminderKind = iota
	// ReminderNotification is a fired reminder being delivered.
	ReminderNotification
	// ReminderCreation confirms a reminder was scheduled.
	ReminderCreation
	// ReminderGeneral is any other reminder-related chatter.
	ReminderGeneral
)

// ReminderMessage is the structured result of parsing an agent message.
type ReminderMessage struct {
	Kind        ReminderKind
	Original    string
	Content     string
	Title       string
	TriggerTime string
	IsError     bool
}

var (
	notificationPattern = regexp.MustCompile(`(?is)\[SUCCESS\]\s*Rappels\s+personnels\s*:\s*(.+)`)
	titlePattern        = regexp.MustCompile(`(?i)(?:titre|title|message|content)\s*:\s*["']?([^"'` + "\n" + `]+)["']?`)
	timePattern         = regexp.MustCompile(`(?i)(?:heure|time).*?(?:déclenchement|trigger)\s*:\s*([^` + "\n" + `]+)`)
	leadingColon        = regexp.MustCompile(`^:\s*`)
)

// Keyword sets are matched case-insensitively; French and English both
// appear in agent traffic.
var (
	creationStatusKeywords = []string{"créé", "created", "programmé", "programmed", "actif", "active", "scheduled"}
	creationEntityKeywords = []string{"rappel", "reminder", "mémo", "memo"}
	creationIDKeywords     = []string{"#", "id:", "id "}
	generalKeywords        = []string{"rappel", "reminder", "remind", "rappeler", "mémo", "memo", "alarme", "alarm", "notification", "notifier"}
	errorKeywords          = []string{"problème", "problem", "erreur", "error", "échec", "fail"}
)

// ReminderParser recognizes reminder traffic from execution agents so
// routine notifications skip the LLM entirely.
type ReminderParser struct{}

// NewReminderParser returns a parser.
func NewReminderParser() *ReminderParser {
	return &ReminderParser{}
}

// Parse classifies a message. Notification beats creation beats general.
func (p *ReminderParser) Parse(message string) ReminderMessage {
	if m := notificationPattern.FindStringSubmatch(message); m != nil {
		content := strings.TrimSpace(m[1])
		content = leadingColon.ReplaceAllString(content, "")
		return ReminderMessage{Kind: ReminderNotification, Original: message, Content: content}
	}

	lower := strings.ToLower(message)
	if containsAny(lower, creationEntityKeywords) &&
		containsAny(lower, creationStatusKeywords) &&
		containsAny(lower, creationIDKeywords) {
		return ReminderMessage{
			Kind:        ReminderCreation,
			Original:    message,
			Title:       extractTitle(message),
			TriggerTime: extractTime(message),
		}
	}

	if containsAny(lower, generalKeywords) {
		return ReminderMessage{
			Kind:     ReminderGeneral,
			Original: message,
			IsError:  containsAny(lower, errorKeywords),
		}
	}

	return ReminderMessage{Kind: ReminderNone, Original: message}
}

// FormatReply renders the short user-facing reply for a parsed reminder.
// Only meaningful for notification, creation and general kinds.
func (p *ReminderParser) FormatReply(parsed ReminderMessage) string {
	switch parsed.Kind {
	case ReminderNotification:
		if parsed.Content != "" {
			return parsed.Content
		}
		return parsed.Original
	case ReminderCreation:
		if parsed.Title != "" {
			if parsed.TriggerTime != "" {
				return "✅ Rappel créé : \"" + parsed.Title + "\" pour " + parsed.TriggerTime
			}
			return "✅ Rappel créé : \"" + parsed.Title + "\""
		}
		return "✅ Rappel créé avec succès"
	case ReminderGeneral:
		if parsed.IsError {
			return "Le système de rappels rencontre des difficultés. Utilise une alarme téléphone comme alternative."
		}
		return "Rappel noté."
	}
	return ""
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func extractTitle(message string) string {
	m := titlePattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	title := strings.TrimSpace(m[1])
	// Very short matches are usually pattern noise, not titles.
	if len(title) <= 3 {
		return ""
	}
	return title
}

func extractTime(message string) string {
	m := timePattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	parts := strings.Fields(strings.TrimSpace(m[1]))
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
