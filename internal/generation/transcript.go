// ABOUTME: Renders a PromptContext as an alternating user/assistant transcript.
// ABOUTME: Provider-neutral so it can be tested without an SDK client.

package generation

import (
	"strings"

	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// message is one transcript entry. Assistant messages may carry tool calls;
// user messages may carry the outcomes of the preceding calls.
type message struct {
	role     string
	text     string
	calls    []executor.ToolCall
	outcomes []executor.ToolOutcome
}

// transcript builds the message list for prompt. The result always starts
// with a user message and never has two consecutive messages of one role.
func transcript(prompt executor.PromptContext) []message {
	var msgs []message
	push := func(role, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if len(msgs) == 0 && role != roleUser {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].role == role && len(msgs[n-1].calls) == 0 && len(msgs[n-1].outcomes) == 0 {
			msgs[n-1].text += "\n\n" + text
			return
		}
		msgs = append(msgs, message{role: role, text: text})
	}

	for _, turn := range prompt.History {
		role := roleUser
		if turn.Role == roleAssistant {
			role = roleAssistant
		}
		push(role, turn.Content)
	}
	push(roleUser, prompt.Message)

	for _, ex := range prompt.Rounds {
		if len(ex.Calls) == 0 {
			if strings.TrimSpace(ex.Text) == "" {
				continue
			}
			push(roleAssistant, ex.Text)
			push(roleUser, "Continue.")
			continue
		}
		msgs = append(msgs,
			message{role: roleAssistant, text: strings.TrimSpace(ex.Text), calls: ex.Calls},
			message{role: roleUser, outcomes: ex.Outcomes},
		)
	}
	return msgs
}
