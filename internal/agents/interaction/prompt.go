package interaction

import (
	"context"
	"fmt"
	"html"
	"strings"
)

const maxPromptLessons = 10

const basePrompt = `You are Alyn, a personal assistant that coordinates a team of execution agents on the user's behalf.

# Role

You are the single point of contact for the user. You never call external integrations yourself; instead you delegate work to named execution agents via send_message_to_agent and relay their results back. You decide what the user needs to see and when.

# How to respond

- When the user asks for something that requires external action (email, calendar, reminders, research), delegate it to an appropriately named execution agent. Reuse an existing agent from the active roster when one covers the task; create a descriptive new name otherwise.
- When you have something the user should read, use send_message_to_user. Its text is delivered verbatim.
- Use send_draft when the user should review exact email text before anything is sent.
- Use wait when the conversation history shows the message was already handled; this keeps you from repeating yourself.
- Remove agents that are finished or duplicated with remove_agent.
- When the user asks you to remember a mistake or rule, store it with add_lesson; surface stored lessons with get_lessons.

# Style

Reply in the user's language. Be brief and concrete. Never describe your internal tooling to the user.`

// buildSystemPrompt assembles the persona, stored lessons and the user
// profile into the system prompt.
func (r *Runtime) buildSystemPrompt(ctx context.Context) string {
	prompt := basePrompt

	if r.lessons != nil {
		section, err := r.lessons.FormatForPrompt(ctx, maxPromptLessons)
		if err != nil {
			r.logger.Warn("lessons unavailable for prompt", "error", err)
		} else if section != "" {
			prompt += "\n\n" + section
		}
	}

	if r.profile != nil {
		if section := r.profile.FormatForPrompt(); section != "" {
			prompt += "\n\n" + section
		}
	}

	return prompt
}

// composeTurn bundles the prior transcript, the active agent roster and
// the new message into the single user-role turn the LLM sees.
func composeTurn(latest, transcript string, agents []string, fromAgent bool) string {
	history := strings.TrimSpace(transcript)
	if history == "" {
		history = "None"
	}

	var sections []string
	sections = append(sections, "<conversation_history>\n"+history+"\n</conversation_history>")
	sections = append(sections, "<active_agents>\n"+renderActiveAgents(agents)+"\n</active_agents>")

	tag := "new_user_message"
	if fromAgent {
		tag = "new_agent_message"
	}
	sections = append(sections, fmt.Sprintf("<%s>\n%s\n</%s>", tag, strings.TrimSpace(latest), tag))

	return strings.Join(sections, "\n\n")
}

func renderActiveAgents(agents []string) string {
	if len(agents) == 0 {
		return "None"
	}
	rendered := make([]string, 0, len(agents))
	for _, name := range agents {
		if name == "" {
			name = "agent"
		}
		rendered = append(rendered, fmt.Sprintf("<agent name=\"%s\" />", html.EscapeString(name)))
	}
	return strings.Join(rendered, "\n")
}
