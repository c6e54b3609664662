package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alynlabs/alyn/internal/llm"
	"github.com/alynlabs/alyn/internal/metrics"
	"github.com/alynlabs/alyn/internal/toolargs"
)

// ToolResult is the standardized payload returned by interaction tools.
// UserMessage carries text that was shown to the user as part of the
// call; RecordedReply marks tools that already wrote to the conversation
// log.
type ToolResult struct {
	Success       bool
	Payload       map[string]any
	UserMessage   string
	RecordedReply bool
}

func toolFailure(errMsg string) ToolResult {
	return ToolResult{Success: false, Payload: map[string]any{"error": errMsg}}
}

var toolSchemas = []llm.ToolSchema{
	{
		Name:        "send_message_to_agent",
		Description: "Deliver instructions to a specific execution agent. Creates a new agent if the name doesn't exist in the roster, or reuses an existing one.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_name": {"type": "string", "description": "Human-readable agent name describing its purpose (e.g., 'Vercel Job Offer', 'Email to Sharanjeet'). This name will be used to identify and potentially reuse the agent."},
				"instructions": {"type": "string", "description": "Instructions for the agent to execute."}
			},
			"required": ["agent_name", "instructions"],
			"additionalProperties": false
		}`),
	},
	{
		Name:        "send_message_to_user",
		Description: "Deliver a natural-language response directly to the user. Use this for updates, confirmations, or any assistant response the user should see immediately.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {"type": "string", "description": "Plain-text message that will be shown to the user and recorded in the conversation log."}
			},
			"required": ["message"],
			"additionalProperties": false
		}`),
	},
	{
		Name:        "send_draft",
		Description: "Record an email draft so the user can review the exact text.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"to": {"type": "string", "description": "Recipient email for the draft."},
				"subject": {"type": "string", "description": "Email subject for the draft."},
				"body": {"type": "string", "description": "Email body content (plain text)."}
			},
			"required": ["to", "subject", "body"],
			"additionalProperties": false
		}`),
	},
	{
		Name:        "wait",
		Description: "Wait silently when a message is already in conversation history to avoid duplicating responses. Adds a wait log entry that is not visible to the user.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"reason": {"type": "string", "description": "Brief explanation of why waiting (e.g., 'Message already sent', 'Draft already created')."}
			},
			"required": ["reason"],
			"additionalProperties": false
		}`),
	},
	{
		Name:        "remove_agent",
		Description: "Remove an execution agent from the roster when it is no longer needed or is a duplicate.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_name": {"type": "string", "description": "Exact name of the agent to remove (case-insensitive)."},
				"clear_logs": {"type": "boolean", "description": "Optional flag to delete the agent's execution logs as well.", "default": false}
			},
			"required": ["agent_name"],
			"additionalProperties": false
		}`),
	},
	{
		Name:        "add_lesson",
		Description: "Add a new lesson learned. Use this when the user explicitly asks you to remember something, learn from a mistake, or add a lesson for future reference.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"category": {"type": "string", "description": "Category of the lesson (e.g., 'email', 'calendar', 'communication', 'user_preference', 'tool_usage')"},
				"problem": {"type": "string", "description": "Description of the problem, mistake, or situation that occurred"},
				"solution": {"type": "string", "description": "How to avoid or fix this problem in the future, or what to do in similar situations"},
				"context": {"type": "string", "description": "Optional context about when/why this lesson is important"}
			},
			"required": ["category", "problem", "solution"],
			"additionalProperties": false
		}`),
	},
	{
		Name:        "get_lessons",
		Description: "Retrieve stored lessons learned. Use this when the user asks to see lessons, list what you've learned, or show past mistakes.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"category": {"type": "string", "description": "Optional: Filter lessons by category (e.g., 'email', 'calendar'). If not provided, returns all lessons."},
				"min_occurrences": {"type": "integer", "description": "Optional: Minimum number of occurrences to filter by. Defaults to 1 (all lessons)."}
			},
			"additionalProperties": false
		}`),
	},
	{
		Name:        "delete_lesson",
		Description: "Delete a specific lesson by its ID. Use this when the user explicitly asks to remove or delete a lesson.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"lesson_id": {"type": "integer", "description": "The ID of the lesson to delete"}
			},
			"required": ["lesson_id"],
			"additionalProperties": false
		}`),
	},
}

// ToolNames returns the names of every interaction tool, in schema
// order.
func ToolNames() []string {
	names := make([]string, 0, len(toolSchemas))
	for _, schema := range toolSchemas {
		names = append(names, schema.Name)
	}
	return names
}

// handleToolCall routes one accepted call to its handler. Handler
// failures come back inside the ToolResult so the loop keeps running.
func (r *Runtime) handleToolCall(ctx context.Context, name string, args map[string]any) ToolResult {
	switch name {
	case "send_message_to_agent":
		return r.sendMessageToAgent(args)
	case "send_message_to_user":
		return r.sendMessageToUser(ctx, args)
	case "send_draft":
		return r.sendDraft(args)
	case "wait":
		return r.wait(args)
	case "remove_agent":
		return r.removeAgent(args)
	case "add_lesson":
		return r.addLesson(ctx, args)
	case "get_lessons":
		return r.getLessons(ctx, args)
	case "delete_lesson":
		return r.deleteLesson(ctx, args)
	}
	r.logger.Warn("unexpected tool", "tool", name)
	return toolFailure("Unknown tool: " + name)
}

func (r *Runtime) sendMessageToAgent(args map[string]any) ToolResult {
	agentName := toolargs.String(args, "agent_name")
	instructions := toolargs.String(args, "instructions")
	if strings.TrimSpace(agentName) == "" || strings.TrimSpace(instructions) == "" {
		return toolFailure("agent_name and instructions are required")
	}

	canonical, added, err := r.roster.Add(agentName)
	if err != nil {
		return toolFailure("roster update failed: " + err.Error())
	}

	action := "Reused"
	if added {
		action = "Created"
	}
	r.logger.Info(action+" agent", "agent", canonical)

	// Fire and forget: the agent's reply comes back later through the
	// agent-message path.
	r.spawner.Spawn(canonical, instructions)

	return ToolResult{
		Success: true,
		Payload: map[string]any{
			"status":            "submitted",
			"agent_name":        canonical,
			"new_agent_created": added,
		},
	}
}

func (r *Runtime) sendMessageToUser(ctx context.Context, args map[string]any) ToolResult {
	message := toolargs.String(args, "message")
	if message == "" {
		return toolFailure("message is required")
	}

	if err := r.convo.RecordReply(message); err != nil {
		return toolFailure("conversation log write failed: " + err.Error())
	}

	channelID := ChannelID(ctx)
	if channelID == "" {
		r.logger.Warn("no delivery channel for user message", "preview", preview(message))
		return ToolResult{
			Success:       true,
			Payload:       map[string]any{"status": "recorded_only"},
			UserMessage:   message,
			RecordedReply: true,
		}
	}

	r.lastSentMu.Lock()
	lastSent := r.lastSent[channelID]
	r.lastSentMu.Unlock()
	if lastSent == message {
		r.logger.Info("duplicate outbound message skipped", "channel", channelID)
		return ToolResult{
			Success:       true,
			Payload:       map[string]any{"status": "duplicate_skipped"},
			UserMessage:   message,
			RecordedReply: true,
		}
	}

	if err := r.sender.Send(ctx, channelID, message); err != nil {
		r.logger.Error("outbound delivery failed", "channel", channelID, "error", err)
	} else {
		r.lastSentMu.Lock()
		r.lastSent[channelID] = message
		r.lastSentMu.Unlock()
		metrics.OutboundMessages.Inc()
	}

	return ToolResult{
		Success:       true,
		Payload:       map[string]any{"status": "delivered"},
		UserMessage:   message,
		RecordedReply: true,
	}
}

func (r *Runtime) sendDraft(args map[string]any) ToolResult {
	to := toolargs.String(args, "to")
	subject := toolargs.String(args, "subject")
	body := toolargs.String(args, "body")
	if to == "" || subject == "" || body == "" {
		return toolFailure("to, subject and body are required")
	}

	message := fmt.Sprintf("To: %s\nSubject: %s\n\n%s", to, subject, body)
	if err := r.convo.RecordReply(message); err != nil {
		return toolFailure("conversation log write failed: " + err.Error())
	}
	r.logger.Info("draft recorded", "to", to)

	return ToolResult{
		Success:       true,
		Payload:       map[string]any{"status": "draft_recorded", "to": to, "subject": subject},
		RecordedReply: true,
	}
}

func (r *Runtime) wait(args map[string]any) ToolResult {
	reason := toolargs.String(args, "reason")
	if err := r.convo.RecordWait(reason); err != nil {
		return toolFailure("conversation log write failed: " + err.Error())
	}
	return ToolResult{
		Success:       true,
		Payload:       map[string]any{"status": "waiting", "reason": reason},
		RecordedReply: true,
	}
}

func (r *Runtime) removeAgent(args map[string]any) ToolResult {
	agentName := toolargs.String(args, "agent_name")
	clearLogs := toolargs.Bool(args, "clear_logs")

	removed, err := r.roster.Remove(agentName)
	if err != nil {
		return toolFailure("roster update failed: " + err.Error())
	}
	if !removed {
		r.logger.Info("agent removal requested but no matching entry found", "agent", agentName)
		return ToolResult{
			Success: false,
			Payload: map[string]any{"status": "not_found", "agent_name": agentName, "logs_cleared": false},
		}
	}

	logsCleared := false
	if clearLogs {
		if err := r.journals.Remove(agentName); err != nil {
			r.logger.Warn("journal removal failed", "agent", agentName, "error", err)
		} else {
			logsCleared = true
		}
	}

	r.logger.Info("agent removed via tool", "agent", agentName)
	return ToolResult{
		Success: true,
		Payload: map[string]any{"status": "removed", "agent_name": agentName, "logs_cleared": logsCleared},
	}
}

func (r *Runtime) addLesson(ctx context.Context, args map[string]any) ToolResult {
	category := toolargs.String(args, "category")
	problem := toolargs.String(args, "problem")
	solution := toolargs.String(args, "solution")
	context_ := toolargs.String(args, "context")

	lesson, err := r.lessons.Add(ctx, category, problem, solution, context_)
	if err != nil {
		r.logger.Error("failed to add lesson", "category", category, "error", err)
		return toolFailure("Failed to add lesson: " + err.Error())
	}

	r.logger.Info("lesson added via tool", "category", category, "lesson_id", lesson.ID)
	return ToolResult{
		Success: true,
		Payload: map[string]any{
			"status":   "lesson_added",
			"category": category,
			"message":  fmt.Sprintf("Lesson ajoutée dans la catégorie '%s'.", category),
		},
	}
}

func (r *Runtime) getLessons(ctx context.Context, args map[string]any) ToolResult {
	category := toolargs.String(args, "category")
	minOccurrences := 1
	if n, ok := toolargs.Int(args, "min_occurrences"); ok && n > 0 {
		minOccurrences = int(n)
	}

	found, err := r.lessons.List(ctx, category, minOccurrences)
	if err != nil {
		r.logger.Error("failed to retrieve lessons", "category", category, "error", err)
		return toolFailure("Failed to retrieve lessons: " + err.Error())
	}

	if len(found) == 0 {
		message := "Aucune lesson trouvée."
		if category != "" {
			message = fmt.Sprintf("Aucune lesson trouvée dans la catégorie '%s'.", category)
		}
		return ToolResult{
			Success: true,
			Payload: map[string]any{"status": "no_lessons", "lessons": []map[string]any{}, "total": 0, "message": message},
		}
	}

	exported := make([]map[string]any, 0, len(found))
	for _, lesson := range found {
		exported = append(exported, map[string]any{
			"id":          lesson.ID,
			"category":    lesson.Category,
			"problem":     lesson.Problem,
			"solution":    lesson.Solution,
			"occurrences": lesson.Occurrences,
		})
	}

	message := fmt.Sprintf("Trouvé %d lesson(s)", len(found))
	if category != "" {
		message += fmt.Sprintf(" dans la catégorie '%s'", category)
	}
	return ToolResult{
		Success: true,
		Payload: map[string]any{"status": "lessons_found", "lessons": exported, "total": len(found), "message": message},
	}
}

func (r *Runtime) deleteLesson(ctx context.Context, args map[string]any) ToolResult {
	id, ok := toolargs.Int(args, "lesson_id")
	if !ok {
		return toolFailure("lesson_id is required")
	}

	if _, err := r.lessons.Get(ctx, id); err != nil {
		return ToolResult{
			Success: false,
			Payload: map[string]any{"status": "not_found", "message": fmt.Sprintf("Aucune lesson trouvée avec l'ID %d", id)},
		}
	}

	if err := r.lessons.Delete(ctx, id); err != nil {
		r.logger.Error("failed to delete lesson", "lesson_id", id, "error", err)
		return toolFailure("Failed to delete lesson: " + err.Error())
	}

	r.logger.Info("lesson deleted via tool", "lesson_id", id)
	return ToolResult{
		Success: true,
		Payload: map[string]any{
			"status":    "lesson_deleted",
			"lesson_id": id,
			"message":   fmt.Sprintf("Lesson #%d supprimée.", id),
		},
	}
}

func preview(s string) string {
	if len(s) > 100 {
		return s[:100]
	}
	return s
}
