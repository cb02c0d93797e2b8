package textgen

import (
	"context"
	"fmt"
	"strings"
)

// Mock returns canned replies keyed by the first word of the prompt. It
// never fails and is the default provider.
type Mock struct{}

var mockReplies = map[string]string{
	"micro_break":    "You've been at this for a while. Let's take a %v minute break: stand up, breathe slowly, look away from the screen.",
	"task_swap":      "This one is dragging. Let's switch to something lighter for now and come back to it later.",
	"load_reduction": "That's a heavy load. Let's trim today's plan so the hardest work fits what you have left.",
	"evaluate":       "Session reviewed: %v",
}

func (Mock) Generate(ctx context.Context, prompt string, data map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	head, _, _ := strings.Cut(strings.TrimSpace(prompt), " ")
	head = strings.ToLower(head)
	reply, ok := mockReplies[head]
	if !ok {
		return "Noted. Keep going at your own pace.", nil
	}
	if strings.Contains(reply, "%v") {
		arg := data["minutes"]
		if head == "evaluate" {
			arg = data["summary"]
		}
		return fmt.Sprintf(reply, arg), nil
	}
	return reply, nil
}
