// Package logline implements the line-oriented journal format shared by the
// conversation log and the per-agent execution journals. Each entry occupies
// exactly one line:
//
//	<tag timestamp="2006-01-02 15:04:05">payload</tag>
//
// Newlines inside payloads are escaped as \n and the HTML-sensitive
// characters & < > are entity-encoded so the payload can never terminate the
// line or forge a closing tag.
package logline

import (
	"regexp"
	"strings"
)

// Entry is one decoded journal line.
type Entry struct {
	Tag       string
	Timestamp string
	Payload   string
}

// Timestamp layout used by all journals.
const TimeLayout = "2006-01-02 15:04:05"

var (
	payloadEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	payloadUnescaper = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
	)
	attrPattern = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)
)

// EncodePayload normalizes line endings, escapes newlines as \n and
// entity-encodes & < >. Quotes are left alone, matching the wire format.
func EncodePayload(payload string) string {
	normalized := strings.ReplaceAll(payload, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	collapsed := strings.ReplaceAll(normalized, "\n", `\n`)
	return payloadEscaper.Replace(collapsed)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(payload string) string {
	return strings.ReplaceAll(payloadUnescaper.Replace(payload), `\n`, "\n")
}

// Format renders a complete journal line, including the trailing newline.
func Format(tag, timestamp, payload string) string {
	return "<" + tag + ` timestamp="` + timestamp + `">` + EncodePayload(payload) + "</" + tag + ">\n"
}

// Parse decodes a single journal line. Malformed lines return ok=false and
// are expected to be skipped by callers.
func Parse(line string) (Entry, bool) {
	stripped := strings.TrimSpace(line)
	if !strings.HasPrefix(stripped, "<") || !strings.Contains(stripped, "</") {
		return Entry{}, false
	}
	openEnd := strings.Index(stripped, ">")
	if openEnd == -1 {
		return Entry{}, false
	}
	openContent := stripped[1:openEnd]
	tag := openContent
	attrString := ""
	if idx := strings.Index(openContent, " "); idx != -1 {
		tag = openContent[:idx]
		attrString = openContent[idx+1:]
	}
	closeStart := strings.LastIndex(stripped, "</")
	closeEnd := strings.LastIndex(stripped, ">")
	if closeStart == -1 || closeEnd == -1 || closeEnd <= closeStart {
		return Entry{}, false
	}
	if stripped[closeStart+2:closeEnd] != tag {
		return Entry{}, false
	}
	payload := stripped[openEnd+1 : closeStart]

	timestamp := ""
	for _, match := range attrPattern.FindAllStringSubmatch(attrString, -1) {
		if match[1] == "timestamp" {
			timestamp = match[2]
		}
	}
	return Entry{Tag: tag, Timestamp: timestamp, Payload: DecodePayload(payload)}, true
}

// ParseAll decodes every well-formed line in a journal blob, preserving
// order. Blank and malformed lines are dropped.
func ParseAll(data string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(data, "\n") {
		if entry, ok := Parse(line); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}
