package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alynlabs/alyn/internal/profile"
	"github.com/alynlabs/alyn/internal/toolargs"
	"github.com/alynlabs/alyn/internal/triggers"
)

const maxTriggerExport = 20

const payloadSummaryCap = 160

var createTriggerParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"payload": {
			"type": "string",
			"description": "Raw instruction text that should run when the trigger fires."
		},
		"recurrence_rule": {
			"type": "string",
			"description": "iCalendar RRULE string describing how often to fire (optional)."
		},
		"start_time": {
			"type": "string",
			"description": "ISO 8601 start time for the first firing. Defaults to now if omitted."
		},
		"status": {
			"type": "string",
			"description": "Initial status; usually 'active' or 'paused'."
		}
	},
	"required": ["payload"],
	"additionalProperties": false
}`)

var updateTriggerParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"trigger_id": {
			"type": "integer",
			"description": "Identifier returned when the trigger was created."
		},
		"payload": {
			"type": "string",
			"description": "Replace the instruction payload (optional)."
		},
		"recurrence_rule": {
			"type": "string",
			"description": "Replace the recurrence rule (optional)."
		},
		"start_time": {
			"type": "string",
			"description": "Replace the ISO 8601 start time (optional)."
		},
		"status": {
			"type": "string",
			"description": "Set trigger status to 'active', 'paused', or 'completed'."
		}
	},
	"required": ["trigger_id"],
	"additionalProperties": false
}`)

var listTriggersParams = json.RawMessage(`{
	"type": "object",
	"properties": {},
	"additionalProperties": false
}`)

// RegisterTriggerTools adds createTrigger, updateTrigger and listTriggers
// to the registry, bound to one agent: every trigger they touch belongs
// to that agent.
func RegisterTriggerTools(registry *Registry, store *triggers.Store, userProfile *profile.Store, agentName string) {
	registry.Register(FuncTool{
		ToolName:        "createTrigger",
		ToolDescription: "Create a reminder trigger for the current execution agent.",
		ToolParameters:  createTriggerParams,
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return createTrigger(ctx, store, userProfile, agentName, args)
		},
	})
	registry.Register(FuncTool{
		ToolName:        "updateTrigger",
		ToolDescription: "Update or pause an existing trigger owned by this execution agent.",
		ToolParameters:  updateTriggerParams,
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return updateTrigger(ctx, store, agentName, args)
		},
	})
	registry.Register(FuncTool{
		ToolName:        "listTriggers",
		ToolDescription: "List the triggers owned by this execution agent.",
		ToolParameters:  listTriggersParams,
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return listTriggers(ctx, store, agentName)
		},
	})
}

func createTrigger(ctx context.Context, store *triggers.Store, userProfile *profile.Store, agentName string, args map[string]any) (map[string]any, error) {
	payload := toolargs.String(args, "payload")
	if strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("payload is required")
	}

	now := time.Now().UTC()
	rec := triggers.Record{
		AgentName:      agentName,
		Payload:        payload,
		RecurrenceRule: toolargs.String(args, "recurrence_rule"),
		Timezone:       userProfile.Timezone(),
		Status:         toolargs.String(args, "status"),
	}
	if raw := toolargs.String(args, "start_time"); raw != "" {
		start, err := parseStartTime(raw)
		if err != nil {
			return nil, err
		}
		rec.StartTime = start
	}

	created, err := store.Create(ctx, rec, now)
	if err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}
	return triggerPayload(created), nil
}

func updateTrigger(ctx context.Context, store *triggers.Store, agentName string, args map[string]any) (map[string]any, error) {
	id, ok := toolargs.Int(args, "trigger_id")
	if !ok {
		return nil, fmt.Errorf("trigger_id is required")
	}

	existing, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("trigger %d: %w", id, err)
	}
	if existing.AgentName != agentName {
		return nil, fmt.Errorf("trigger %d belongs to another agent", id)
	}

	var fields triggers.UpdateFields
	if v, present := args["payload"]; present {
		s, _ := v.(string)
		fields.Payload = &s
	}
	if v, present := args["recurrence_rule"]; present {
		s, _ := v.(string)
		fields.RecurrenceRule = &s
	}
	if v, present := args["status"]; present {
		s, _ := v.(string)
		fields.Status = &s
	}
	if raw := toolargs.String(args, "start_time"); raw != "" {
		start, err := parseStartTime(raw)
		if err != nil {
			return nil, err
		}
		fields.StartTime = &start
	}

	updated, err := store.Update(ctx, id, fields, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update trigger %d: %w", id, err)
	}
	return triggerPayload(updated), nil
}

func listTriggers(ctx context.Context, store *triggers.Store, agentName string) (map[string]any, error) {
	records, err := store.List(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	if len(records) > maxTriggerExport {
		records = records[:maxTriggerExport]
	}
	summarized := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		summarized = append(summarized, triggerPayload(rec))
	}
	return map[string]any{"triggers": summarized}, nil
}

// triggerPayload condenses a record for LLM consumption; the payload is
// summarized to keep prompts small.
func triggerPayload(rec triggers.Record) map[string]any {
	out := map[string]any{
		"trigger_id":      rec.ID,
		"payload_summary": summarize(rec.Payload),
		"status":          rec.Status,
	}
	if rec.NextFire != nil {
		out["next_trigger"] = rec.NextFire.Format(time.RFC3339)
	}
	if !rec.StartTime.IsZero() {
		out["start_time"] = rec.StartTime.Format(time.RFC3339)
	}
	if rec.RecurrenceRule != "" {
		out["recurrence_rule"] = rec.RecurrenceRule
	}
	if rec.Timezone != "" {
		out["timezone"] = rec.Timezone
	}
	if rec.LastError != "" {
		out["last_error"] = rec.LastError
	}
	return out
}

func summarize(payload string) string {
	normalized := strings.Join(strings.Fields(payload), " ")
	if len(normalized) <= payloadSummaryCap {
		return normalized
	}
	return normalized[:payloadSummaryCap] + "..."
}

func parseStartTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("start_time %q is not an ISO 8601 timestamp", raw)
}

