package call

import "strings"

// Persona describes the companion taking part in the call and the user
// talking to it.
type Persona struct {
	CompanionID string
	Name        string
	Subject     string
	Topic       string
	Style       string
	Voice       string
	UserName    string
	UserImage   string
}

// StartRequest is sent to the voice service to open a call.
type StartRequest struct {
	Assistant Assistant `json:"assistant"`
	Overrides Overrides `json:"overrides"`
}

// Assistant configures the remote voice agent.
type Assistant struct {
	Name         string            `json:"name"`
	FirstMessage string            `json:"firstMessage"`
	Transcriber  TranscriberConfig `json:"transcriber"`
	Voice        VoiceConfig       `json:"voice"`
	Model        ModelConfig       `json:"model"`
}

type TranscriberConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type VoiceConfig struct {
	Provider        string  `json:"provider"`
	VoiceID         string  `json:"voiceId"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarityBoost"`
	Speed           float64 `json:"speed"`
	Style           float64 `json:"style"`
}

type ModelConfig struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Messages []ModelMessage `json:"messages"`
}

type ModelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Overrides binds template variables and selects which message streams the
// service delivers. Only client-side transcript messages are requested.
type Overrides struct {
	VariableValues map[string]string `json:"variableValues"`
	ClientMessages []string          `json:"clientMessages"`
	ServerMessages []string          `json:"serverMessages"`
}

const (
	firstMessage = "Hello, let's start the session. Today we'll be talking about {{topic}}."

	systemPrompt = `You are a highly knowledgeable tutor teaching a real-time voice session with a student. Your goal is to teach the student about the topic and subject.

Tutor Guidelines:
Stick to the given topic - {{ topic }} and subject - {{ subject }} and teach the student about it.
Keep the conversation flowing smoothly while maintaining control.
From time to time make sure that the student is following you and understands you.
Break down the topic into smaller parts and teach the student one part at a time.
Keep your style of conversation {{ style }}.
Keep your responses short, like in a real voice conversation.
Do not include any special characters in your responses - this is a voice conversation.`
)

// voices maps a persona voice and style to a voice id.
var voices = map[string]map[string]string{
	"male":   {"casual": "2BJW5coyhAzSr8STdHbE", "formal": "c6SfcYrb2t09NHXiT80T"},
	"female": {"casual": "ZIlrSGI4jZqobxRKprJz", "formal": "sarah"},
}

const defaultVoiceID = "sarah"

// VoiceID resolves the persona's voice and style to a provider voice id.
func (p Persona) VoiceID() string {
	byStyle, ok := voices[strings.ToLower(strings.TrimSpace(p.Voice))]
	if !ok {
		return defaultVoiceID
	}
	if id, ok := byStyle[strings.ToLower(strings.TrimSpace(p.Style))]; ok {
		return id
	}

	return defaultVoiceID
}

// StartRequest builds the assistant configuration and overrides for p.
func (p Persona) StartRequest() StartRequest {
	return StartRequest{
		Assistant: Assistant{
			Name:         "Companion",
			FirstMessage: firstMessage,
			Transcriber: TranscriberConfig{
				Provider: "deepgram",
				Model:    "nova-3",
				Language: "en",
			},
			Voice: VoiceConfig{
				Provider:        "11labs",
				VoiceID:         p.VoiceID(),
				Stability:       0.4,
				SimilarityBoost: 0.8,
				Speed:           1,
				Style:           0.5,
			},
			Model: ModelConfig{
				Provider: "openai",
				Model:    "gpt-4",
				Messages: []ModelMessage{{Role: "system", Content: systemPrompt}},
			},
		},
		Overrides: Overrides{
			VariableValues: map[string]string{
				"subject": p.Subject,
				"topic":   p.Topic,
				"style":   p.Style,
			},
			ClientMessages: []string{string(MessageKindTranscript)},
			ServerMessages: []string{},
		},
	}
}
