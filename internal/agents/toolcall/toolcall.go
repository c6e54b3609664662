// Package toolcall normalizes LLM-produced function calls before dispatch.
// It rejects hallucinated names (unknown or concatenated) without dropping
// the call, so the model receives corrective feedback instead of silence.
package toolcall

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// InvalidArgumentsKey is the reserved argument key carrying a structured
// rejection. A call whose arguments contain it must never be executed; the
// value is surfaced back to the LLM as the tool result.
const InvalidArgumentsKey = "__invalid_arguments__"

// RawCall is a tool call as the LLM endpoint delivers it: name plus the
// arguments still in JSON-string form.
type RawCall struct {
	ID        string
	Name      string
	Arguments string
}

// Call is a normalized tool call ready for dispatch.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Invalid returns the structured rejection reason, if any.
func (c Call) Invalid() (string, bool) {
	v, ok := c.Arguments[InvalidArgumentsKey]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// Parser validates raw tool calls against a set of known tool names.
type Parser struct {
	known  []string
	logger *slog.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithLogger configures the parser's logger.
func WithLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewParser creates a parser over the given known tool names.
func NewParser(known []string, opts ...ParserOption) *Parser {
	p := &Parser{
		known:  append([]string(nil), known...),
		logger: slog.Default().With("component", "toolcall"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse normalizes raw tool calls. Calls without a name are dropped with a
// warning; concatenated and unknown names come back as Calls carrying
// InvalidArgumentsKey so the runtime can feed the rejection to the LLM.
func (p *Parser) Parse(raw []RawCall) []Call {
	var calls []Call
	for _, r := range raw {
		if r.Name == "" {
			p.logger.Warn("tool call missing name, skipping", "id", r.ID)
			continue
		}

		// Concatenation check runs before argument parsing; a fused name
		// makes the arguments meaningless anyway.
		if components := SplitKnownTools(r.Name, p.known); len(components) > 0 {
			p.logger.Warn("tool call combined multiple tools",
				"tool", r.Name, "components", components)
			calls = append(calls, Call{
				ID:   r.ID,
				Name: components[0],
				Arguments: map[string]any{
					InvalidArgumentsKey: concatenationMessage(r.Name, components),
				},
			})
			continue
		}

		if !p.isKnown(r.Name) {
			p.logger.Warn("tool call for unknown tool", "tool", r.Name)
			calls = append(calls, Call{
				ID:   r.ID,
				Name: r.Name,
				Arguments: map[string]any{
					InvalidArgumentsKey: fmt.Sprintf(
						"ERROR: Unknown tool '%s'. Please use only the tools provided in your schema.", r.Name),
				},
			})
			continue
		}

		args, err := parseArguments(r.Arguments)
		if err != nil {
			p.logger.Warn("tool call arguments invalid", "tool", r.Name, "error", err)
			calls = append(calls, Call{
				ID:        r.ID,
				Name:      r.Name,
				Arguments: map[string]any{InvalidArgumentsKey: fmt.Sprintf("Invalid JSON arguments: %v", err)},
			})
			continue
		}
		calls = append(calls, Call{ID: r.ID, Name: r.Name, Arguments: args})
	}
	return calls
}

func (p *Parser) isKnown(name string) bool {
	for _, k := range p.known {
		if k == name {
			return true
		}
	}
	return false
}

func concatenationMessage(name string, components []string) string {
	return fmt.Sprintf(
		"CRITICAL ERROR: You attempted to call multiple tools in a single invocation. "+
			"The tool name '%s' is invalid because it combines these tools: %s. "+
			"You MUST call each tool separately in its own tool invocation. "+
			"Make separate calls for: %s.",
		name, strings.Join(components, ", "), strings.Join(components, " and "))
}

func parseArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// separators allowed between components of a concatenated name, never at
// the very start.
const splitSeparators = "_ -+"

// SplitKnownTools detects fused tool names by greedy longest-match
// left-to-right decomposition against the known set. It returns the
// component names when the input splits into two or more known tools, and
// nil otherwise (a single exact match is not a concatenation).
func SplitKnownTools(name string, known []string) []string {
	if name == "" || len(known) == 0 {
		return nil
	}
	sorted := append([]string(nil), known...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	type memoEntry struct {
		parts []string
		ok    bool
	}
	memo := make(map[int]memoEntry)

	var splitFrom func(index int) ([]string, bool)
	splitFrom = func(index int) ([]string, bool) {
		if index >= len(name) {
			return nil, true
		}
		if cached, hit := memo[index]; hit {
			return cached.parts, cached.ok
		}
		current := index
		if current > 0 {
			for current < len(name) && strings.ContainsRune(splitSeparators, rune(name[current])) {
				current++
			}
			if current >= len(name) {
				memo[index] = memoEntry{ok: true}
				return nil, true
			}
		}
		for _, candidate := range sorted {
			if strings.HasPrefix(name[current:], candidate) {
				if rest, ok := splitFrom(current + len(candidate)); ok {
					parts := append([]string{candidate}, rest...)
					memo[index] = memoEntry{parts: parts, ok: true}
					return parts, true
				}
			}
		}
		memo[index] = memoEntry{}
		return nil, false
	}

	components, ok := splitFrom(0)
	if !ok || len(components) <= 1 {
		return nil
	}
	return components
}

// ResultEnvelope is the JSON wrapper appended as a tool-role message after
// each execution.
type ResultEnvelope struct {
	Tool      string         `json:"tool"`
	Status    string         `json:"status"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// FormatResult renders a success envelope.
func FormatResult(tool string, args map[string]any, result any) string {
	return marshalEnvelope(ResultEnvelope{Tool: tool, Status: "success", Arguments: args, Result: result})
}

// FormatError renders a failure envelope.
func FormatError(tool string, args map[string]any, errText string) string {
	return marshalEnvelope(ResultEnvelope{Tool: tool, Status: "error", Arguments: args, Error: errText})
}

func marshalEnvelope(env ResultEnvelope) string {
	data, err := json.Marshal(env)
	if err != nil {
		// Unmarshalable results degrade to their string form.
		return fmt.Sprintf(`{"tool":%q,"status":%q,"error":"unserializable result: %v"}`, env.Tool, env.Status, err)
	}
	return string(data)
}

// Signature produces a canonical fingerprint of a tool invocation. Map keys
// marshal in sorted order, so equal argument maps always produce equal
// signatures regardless of construction order.
func Signature(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", args))
	}
	return name + ":" + string(data)
}
