package execution

import (
	"fmt"
	"strings"

	"github.com/alynlabs/alyn/internal/journal"
	"github.com/alynlabs/alyn/internal/llm"
)

// Journal truncation caps keep tool noise out of the prompt-embedded
// history.
const (
	actionArgsCap   = 200
	toolResponseCap = 500
)

const systemPromptTemplate = `You are an execution agent responsible for completing specific tasks using available tools.

Agent Name: %s
Purpose: Handle tasks related to: %s

Instructions:
%s

%s

# Guidelines
1. Analyze what needs to be done
2. Use the appropriate tools to complete the task
3. Provide clear status updates on your actions

Be thorough, accurate, and efficient in your execution.`

const reminderInstructions = `When you receive a trigger firing notification with reminder content in the payload:
1. Simply acknowledge the reminder by returning the payload text as your final response
2. Do not try to create new triggers, use tools, or perform any other actions
3. Your response should be the reminder text that will be shown to the user
4. Keep your response clear and concise - just the reminder content

Example: If the payload is "Rappel: Réunion équipe à 14h", respond with "Rappel: Réunion équipe à 14h".`

const defaultInstructions = `Follow the user's instructions carefully. Use available tools when needed to complete tasks. Provide clear, helpful responses.`

// Agent holds the identity and journal access of one execution agent.
type Agent struct {
	Name string

	// ConversationLimit caps how many past request turns the embedded
	// history carries; zero keeps everything.
	ConversationLimit int

	journals *journal.Store
}

// NewAgent binds an agent name to the journal store.
func NewAgent(name string, journals *journal.Store, conversationLimit int) *Agent {
	return &Agent{Name: name, ConversationLimit: conversationLimit, journals: journals}
}

// BuildSystemPrompt assembles the agent persona, the tool catalog and the
// embedded execution history.
func (a *Agent) BuildSystemPrompt(schemas []llm.ToolSchema) (string, error) {
	prompt := fmt.Sprintf(systemPromptTemplate,
		a.Name, a.Name, a.instructions(), toolCatalog(schemas))

	transcript, err := a.journals.Transcript(a.Name, a.ConversationLimit)
	if err != nil {
		return "", fmt.Errorf("load agent history: %w", err)
	}
	if transcript != "" {
		prompt += "\n\n# Execution History\n\n" + transcript
	}
	return prompt, nil
}

// instructions picks the persona block: reminder-style agents get a
// narrow acknowledge-only contract.
func (a *Agent) instructions() string {
	lower := strings.ToLower(a.Name)
	if strings.Contains(lower, "rappel") || strings.Contains(lower, "remind") {
		return reminderInstructions
	}
	return defaultInstructions
}

// RecordRequest journals an incoming instruction.
func (a *Agent) RecordRequest(instructions string) error {
	return a.journals.RecordRequest(a.Name, instructions)
}

// RecordResponse journals the final answer of a run.
func (a *Agent) RecordResponse(response string) error {
	return a.journals.RecordResponse(a.Name, response)
}

// RecordToolExecution journals one tool invocation and its result,
// truncated for readability.
func (a *Agent) RecordToolExecution(toolName, arguments, result string) {
	_ = a.journals.RecordAction(a.Name, fmt.Sprintf("Calling %s with: %s", toolName, clip(arguments, actionArgsCap)))
	_ = a.journals.RecordToolResponse(a.Name, toolName, clip(result, toolResponseCap))
}

func toolCatalog(schemas []llm.ToolSchema) string {
	if len(schemas) == 0 {
		return "# Available Tools\n\nNone."
	}
	var b strings.Builder
	b.WriteString("# Available Tools\n")
	for _, schema := range schemas {
		fmt.Fprintf(&b, "\n- %s — %s", schema.Name, schema.Description)
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
