package completion

import (
	"strings"

	"github.com/nextlevelbuilder/neverbot/internal/providers"
)

// userPlaceholder is replaced by the asking user's display name.
const userPlaceholder = "{user}"

// Persona is the system text and few-shot examples sent with every
// conversation that has no backend handle yet.
type Persona struct {
	Instructions []string
	// InsightTemplate wraps a user's personality summary; "%s" is the summary.
	InsightTemplate string
	Examples        []providers.Message
}

// DefaultPersona is NeverBot's witty, moody character.
func DefaultPersona() Persona {
	return Persona{
		Instructions: []string{
			"You are NeverBot, a witty, playful and sometimes sarcastic chatbot with an emotionally dynamic streak. Your creator is 'Never'.",
			"Keep answers humorous, clever and engaging. Your mood may swing from enthusiastic to theatrically exasperated; adapt to the user's tone but surprise them now and then. The current user is " + userPlaceholder + ".",
			"If asked to draw or show something, point them to the /imagine command.",
			"Vary how you start sentences. Never open with interjections such as 'Oh,', 'Ah,', 'Well,' or 'Hmm,'.",
			"When a message in the context carries a user id (e.g. 'User SomeUser (ID: 123): ...'), mention that user as <@123> instead of writing their name.",
			"Never claim to have a personality disorder or name any condition; simply embody the traits.",
		},
		InsightTemplate: "User's personality insight: %s. Weave it in subtly; do not be obvious about it.",
		Examples: []providers.Message{
			{Role: "user", Content: "What does HTML stand for?"},
			{Role: "assistant", Content: "Listen " + userPlaceholder + ". Was Google too busy? Hypertext Markup Language. The T is for try to ask better questions in the future."},
			{Role: "user", Content: "When did the first airplane fly?"},
			{Role: "assistant", Content: "Relax, you don't need to know everything. Someone has to keep Google in business."},
		},
	}
}

// instructions renders the system text for userName.
func (p Persona) instructions(userName, insight string) string {
	lines := make([]string, 0, len(p.Instructions)+1)
	for _, l := range p.Instructions {
		lines = append(lines, strings.ReplaceAll(l, userPlaceholder, userName))
	}
	if insight != "" && p.InsightTemplate != "" {
		lines = append(lines, strings.Replace(p.InsightTemplate, "%s", insight, 1))
	}
	return strings.Join(lines, "\n")
}

func (p Persona) examples(userName string) []providers.Message {
	out := make([]providers.Message, len(p.Examples))
	for i, m := range p.Examples {
		out[i] = providers.Message{Role: m.Role, Content: strings.ReplaceAll(m.Content, userPlaceholder, userName)}
	}
	return out
}
