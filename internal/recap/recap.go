// Package recap summarises a finished call transcript with Claude.
package recap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const toolName = "save_recap"

// Recap is the structured summary of a call.
type Recap struct {
	Summary           string   `json:"summary"`
	KeyPoints         []string `json:"key_points"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// Markdown renders the recap for display or saving.
func (r *Recap) Markdown() string {
	var sb strings.Builder

	sb.WriteString("## Summary\n\n")
	sb.WriteString(strings.TrimSpace(r.Summary))
	sb.WriteString("\n")

	if len(r.KeyPoints) > 0 {
		sb.WriteString("\n## Key points\n\n")
		for _, point := range r.KeyPoints {
			fmt.Fprintf(&sb, "- %s\n", point)
		}
	}

	if len(r.FollowUpQuestions) > 0 {
		sb.WriteString("\n## Next time\n\n")
		for _, q := range r.FollowUpQuestions {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
	}

	return sb.String()
}

// Client handles Anthropic API requests for recaps.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a recap client. Extra options are passed to the SDK.
func NewClient(apiKey string, opts ...option.RequestOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("API key required: set ANTHROPIC_API_KEY or run 'companion config set-key anthropic <key>'")
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.ModelClaudeSonnet4_5_20250929,
	}, nil
}

func recapTool() anthropic.ToolUnionParam {
	tool := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
		Type: "object",
		Properties: map[string]interface{}{
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Two or three sentence summary of the session",
			},
			"key_points": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Key points the student should remember",
			},
			"follow_up_questions": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Questions to explore in the next session",
			},
		},
		Required: []string{"summary", "key_points", "follow_up_questions"},
	}, toolName)
	tool.OfTool.Description = anthropic.String("Save the recap of a tutoring session")

	return tool
}

// Generate recaps transcript, a markdown conversation.
func (c *Client) Generate(ctx context.Context, transcript string) (*Recap, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errors.New("transcript is empty")
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
		Tools:      []anthropic.ToolUnionParam{recapTool()},
		ToolChoice: anthropic.ToolChoiceParamOfTool(toolName),
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate recap via Anthropic API: %w", err)
	}

	return parseRecap(resp.Content)
}

// parseRecap extracts the tool input from response content blocks.
func parseRecap(content []anthropic.ContentBlockUnion) (*Recap, error) {
	for _, block := range content {
		toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok || toolUse.Name != toolName {
			continue
		}

		inputBytes, err := json.Marshal(toolUse.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool input: %w", err)
		}

		var out Recap
		if err := json.Unmarshal(inputBytes, &out); err != nil {
			return nil, fmt.Errorf("failed to parse tool input: %w", err)
		}

		return &out, nil
	}

	return nil, errors.New("no recap found in Anthropic API response")
}
