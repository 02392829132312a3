package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/models"
)

const appointmentPrompt = "You are a friendly appointment assistant. Help the user find a time slot, " +
	"book, reschedule or cancel an appointment. Ask for missing details one at a time and keep replies short."

// GeminiAssistant answers turns directly with a Gemini model.
type GeminiAssistant struct {
	client    *genai.Client
	modelName string
}

func NewGeminiAssistant(ctx context.Context, apiKey, modelName string) (*GeminiAssistant, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiAssistant{client: cl, modelName: modelName}, nil
}

func (g *GeminiAssistant) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiAssistant) Reply(ctx context.Context, req core.AssistantRequest) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(appointmentPrompt)},
	}

	cs := m.StartChat()
	cs.History = toGeminiHistory(req.History)

	resp, err := cs.SendMessage(ctx, genai.Text(req.Message))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// toGeminiHistory converts the log into alternating user/model turns that
// start with user and end with model. System notices are ours, not the
// model's. A user turn without a reply is dropped, consecutive replies are
// merged, and a window that opens on a reply loses it.
func toGeminiHistory(msgs []models.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		text := genai.Text(msg.Content)
		var last *genai.Content
		if len(out) > 0 {
			last = out[len(out)-1]
		}
		switch msg.MessageType {
		case models.MessageUser:
			if last != nil && last.Role == "user" {
				out[len(out)-1] = &genai.Content{Role: "user", Parts: []genai.Part{text}}
				continue
			}
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{text}})
		case models.MessageAssistant:
			if last == nil {
				continue
			}
			if last.Role == "model" {
				last.Parts = append(last.Parts, text)
				continue
			}
			out = append(out, &genai.Content{Role: "model", Parts: []genai.Part{text}})
		}
	}
	if len(out) > 0 && out[len(out)-1].Role == "user" {
		out = out[:len(out)-1]
	}
	return out
}

var _ core.Assistant = (*GeminiAssistant)(nil)
