package memory

import (
	"context"

	"github.com/relayhq/relay/internal/providers"
	"github.com/relayhq/relay/pkg/models"
)

// ProviderChatter adapts a *providers.Client to the chatter interface
// compression needs: a single system+user prompt in, assistant text
// out.
type ProviderChatter struct {
	Client *providers.Client
}

// Chat sends prompt as a single user message and returns the assistant
// message's content.
func (c ProviderChatter) Chat(ctx context.Context, model string, prompt string) (string, error) {
	resp, err := c.Client.Chat(ctx, &providers.CompletionRequest{
		Model:    model,
		Messages: []models.Message{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
