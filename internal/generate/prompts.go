package generate

import (
	"encoding/json"
	"fmt"
)

// Prompt templates driving the simulated user, simulated tools, and the
// assistant turn. Kept together so the full generation "script" is readable
// in one place.

const simulatedUserPrompt = `You are a regular user interacting with an AI assistant.
Your goal is to initiate a natural and realistic conversation about a specific topic. Keep it brief and to the point.

Topic context: %s
System Persona the assistant follows: %s
Your Persona: %s

Based on the context and topic, write your first message as the user.
Do not provide the assistant's response.
Just write the initial user prompt.`

func firstUserMessagePrompt(topicContext, systemPrompt, persona string) string {
	return fmt.Sprintf(simulatedUserPrompt, topicContext, systemPrompt, persona)
}

const simulatedToolResultPrompt = `The AI assistant is trying to help you. It decided to call the tool '%s' with these arguments:
%s

Based on the domain context (%s) and the tool's purpose, simulate a realistic and helpful result that this tool would return.
The result should be concise and formatted as it would appear in a real system (e.g., JSON, a status message, or data output).
Your simulated result will be shown to the assistant so it can continue the task.
Just provide the simulated output.`

func toolResultPrompt(toolName, arguments, topicContext string) string {
	return fmt.Sprintf(simulatedToolResultPrompt, toolName, arguments, topicContext)
}

const simulatedUserSystemPrompt = `You are a user interacting with an AI assistant.

Your Persona:
%s

Topic Context:
%s

Your Goal:
%s

Instructions:
- The conversation history is provided using <user_prompt> and <assistant_response> tags.
- Provide the next message as the user based on the conversation history, strictly in plain text and without any tags.
- Keep it concise and natural, within 1-3 sentences.
- If the assistant asks for information, provide it consistent with your persona.
- If the task is effectively complete or the conversation has reached a natural conclusion, respond with %s.
- Do not repeat previous messages verbatim.`

// endSentinel is emitted by the simulated user to signal that the
// conversation has reached a natural conclusion.
const endSentinel = "[END]"

func userResponseSystemPrompt(persona, topicContext, goal string) string {
	return fmt.Sprintf(simulatedUserSystemPrompt, persona, topicContext, goal, endSentinel)
}

const assistantInstructions = `You are continuing a multi-turn conversation as the assistant.

Return a JSON object with exactly:
{
  "content": "...",
  "tool_calls": [
    {
      "id": "unique_id",
      "type": "function",
      "function": {
        "name": "tool_name",
        "arguments": "{\"arg\": \"value\"}"
      }
    }
  ]
}

Rules:
- If no tool is needed, set tool_calls to null.
- tool_calls may ONLY reference the available tools.
- Tool arguments must be valid JSON and include required fields.
- Never output "records", "metadata", or any extra keys.
- Keep the assistant content concise and helpful.`

const rftVariationTemplate = `You are generating a varied version of a user message for training data.

Original User Message:
%s

Topic Context: %s
Persona: %s

Generate a new user message that:
1. Conveys the same core intent/request as the original
2. Uses language and tone consistent with the persona
3. May rephrase, add context, or adjust complexity based on the persona
4. Should feel natural and realistic

Output only the varied user message, nothing else.`

func variationPrompt(originalMessage, topicContext, persona string) string {
	return fmt.Sprintf(rftVariationTemplate, originalMessage, topicContext, persona)
}

// assistantTurnSchema is the structured-output schema for one assistant turn.
var assistantTurnSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "content": {"type": "string"},
    "tool_calls": {
      "anyOf": [
        {"type": "null"},
        {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "id": {"type": "string"},
              "type": {"type": "string", "enum": ["function"]},
              "function": {
                "type": "object",
                "properties": {
                  "name": {"type": "string"},
                  "arguments": {"type": "string"}
                },
                "required": ["name", "arguments"],
                "additionalProperties": false
              }
            },
            "required": ["id", "type", "function"],
            "additionalProperties": false
          }
        }
      ]
    }
  },
  "required": ["content", "tool_calls"],
  "additionalProperties": false
}`)
