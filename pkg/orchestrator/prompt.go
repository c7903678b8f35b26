package orchestrator

import (
	"fmt"
	"strings"

	"conductor/pkg/agent"
	"conductor/pkg/proto"
	"conductor/pkg/tokens"
)

// fallbackReply is returned verbatim when the model fabricates tool output
// twice in a row. It deflects without inventing data.
const fallbackReply = "I wasn't able to run that reliably just now. I haven't executed any tool, so I won't make up a result. Could you try asking again?"

const systemTemplate = `You are a conversational assistant that can delegate work to tools.

To invoke a tool you must write the call in this exact syntax, wrapped in
backticks or emphasis markup:

` + "`tool_name(task=\"the task text\")`" + `

Available tools:
%s
Rules:
- Only the syntax above counts as an invocation. Plain mentions of a tool do nothing.
- Never write a tool's output yourself. Tool results arrive in a later turn.
- If no tool is needed, just answer the user directly.`

const stricterSuffix = `

IMPORTANT: your previous reply looked like fabricated tool output and was
discarded. Either invoke a tool with the exact syntax, or answer in plain
prose. Do not write lines that imitate a tool's response.`

// systemPrompt renders the tool-call contract with the live catalogue.
func systemPrompt(catalogueBlock string) string {
	return fmt.Sprintf(systemTemplate, catalogueBlock)
}

func stricterSystemPrompt(catalogueBlock string) string {
	return systemPrompt(catalogueBlock) + stricterSuffix
}

// reconciliationPrompt constrains the model to answer from one tool result.
func reconciliationPrompt(tool, userText, payload string) string {
	return fmt.Sprintf(`The background tool %s has finished working on the user's earlier request:
%q

Tool result:
%s

Reply to the user using only this result. Do not invent additional data.`, tool, userText, payload)
}

// failureReconciliationPrompt asks the model to relay a tool failure honestly.
func failureReconciliationPrompt(tool, userText, message string) string {
	return fmt.Sprintf(`The background tool %s could not complete the user's earlier request:
%q

Failure: %s

Tell the user the tool did not succeed and summarize why. Do not invent a result.`, tool, userText, message)
}

// buildMessages assembles the completion request: system contract, recent
// token-capped conversation context, then the current user input.
func buildMessages(system string, context []*proto.Message, counter *tokens.Counter, budget int, userText string) []agent.CompletionMessage {
	messages := []agent.CompletionMessage{agent.NewSystemMessage(system)}

	used := 0
	var kept []*proto.Message
	for i := len(context) - 1; i >= 0; i-- {
		msg := context[i]
		cost := counter.Count(msg.Content)
		if budget > 0 && used+cost > budget {
			break
		}
		used += cost
		kept = append(kept, msg)
	}
	// kept is newest-first; replay oldest-first.
	for i := len(kept) - 1; i >= 0; i-- {
		msg := kept[i]
		switch msg.Role {
		case proto.RoleAssistant:
			messages = append(messages, agent.NewAssistantMessage(msg.Content))
		case proto.RoleUser:
			messages = append(messages, agent.NewUserMessage(msg.Content))
		case proto.RoleTool:
			// Tool-submission noise is excluded from prompt context.
		}
	}

	messages = append(messages, agent.NewUserMessage(strings.TrimSpace(userText)))
	return messages
}
