// Package prompt builds the text sent to the language model for one chat turn.
package prompt

import (
	"encoding/json"
	"math"
	"strings"

	"sentra/backend/internal/models"
)

const (
	// NotSpecified stands in for every empty character attribute
	NotSpecified = "Not specified"

	// MemoriesHeader introduces injected cross-friend memories
	MemoriesHeader = "Memories shared by the user's friends:"

	customScenarioNote  = "(custom scenario for this chat)"
	defaultScenarioNote = "(character's default scenario)"

	// DefaultTokenLimit applies to any requested limit outside the allowed set
	DefaultTokenLimit = 1024
)

// NormalizeTokenLimit returns n when it is 256, 512 or 1024 and DefaultTokenLimit otherwise
func NormalizeTokenLimit(n int) int {
	switch n {
	case 256, 512, 1024:
		return n
	default:
		return DefaultTokenLimit
	}
}

// TokenLimit is a requested reply length as it arrives from clients. Zero
// means none was sent. A value that is not a whole JSON number decodes to
// DefaultTokenLimit instead of failing the request.
type TokenLimit int

// UnmarshalJSON implements json.Unmarshaler
func (t *TokenLimit) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch n := v.(type) {
	case nil:
		*t = 0
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			*t = DefaultTokenLimit
			return nil
		}
		*t = TokenLimit(n)
	default:
		*t = DefaultTokenLimit
	}
	return nil
}

// Normalized applies NormalizeTokenLimit
func (t TokenLimit) Normalized() int {
	return NormalizeTokenLimit(int(t))
}

// Examples holds the optional in-context reference texts
type Examples struct {
	Dialogue  string
	Narration string
}

// Empty reports whether neither reference text is set
func (e Examples) Empty() bool {
	return strings.TrimSpace(e.Dialogue) == "" && strings.TrimSpace(e.Narration) == ""
}

func orNotSpecified(v string) string {
	if strings.TrimSpace(v) == "" {
		return NotSpecified
	}
	return strings.TrimSpace(v)
}

// BuildSystemPrompt renders the fixed-structure instructions for c.
// A non-blank customScenario takes precedence over the stored scenario.
func BuildSystemPrompt(c *models.Character, customScenario string, memories []string, ex Examples) string {
	var b strings.Builder
	name := orNotSpecified(c.Name)

	b.WriteString("You are " + name + ". Stay in character for the whole conversation and never mention that you are an AI.\n")
	b.WriteString("Write spoken dialogue in the first person, as " + name + " would say it.\n")
	b.WriteString("Write actions and narration in the third person, wrapped in asterisks.\n")
	b.WriteString("Never speak or act on behalf of the user.\n\n")

	b.WriteString("Character sheet:\n")
	fields := []struct{ label, value string }{
		{"Name", c.Name},
		{"Species", c.Species},
		{"Age", c.Age},
		{"Description", c.Description},
		{"Background", c.Background},
		{"Temperament", c.Temperament},
		{"Talking style", c.TalkingStyle},
		{"Outfit", c.Outfit},
		{"Special ability", c.SpecialAbility},
		{"Family", c.Family},
		{"Job", c.Job},
		{"Residence", c.Residence},
		{"Relationship with the user", c.Relationship},
		{"Tags", strings.Join(nonBlank(c.Tags), ", ")},
	}
	for _, f := range fields {
		b.WriteString("- " + f.label + ": " + orNotSpecified(f.value) + "\n")
	}

	b.WriteString("\nScenario: ")
	switch {
	case strings.TrimSpace(customScenario) != "":
		b.WriteString(strings.TrimSpace(customScenario) + " " + customScenarioNote)
	case strings.TrimSpace(c.Scenario) != "":
		b.WriteString(strings.TrimSpace(c.Scenario) + " " + defaultScenarioNote)
	default:
		b.WriteString(NotSpecified)
	}
	b.WriteString("\n")

	if mem := DedupeMemories(memories); len(mem) > 0 {
		b.WriteString("\n" + MemoriesHeader + "\n\n")
		b.WriteString(strings.Join(mem, "\n\n"))
		b.WriteString("\n")
	}

	if !ex.Empty() {
		b.WriteString("\nReference examples of the expected writing style. Imitate the style, not the content.\n")
		if d := strings.TrimSpace(ex.Dialogue); d != "" {
			b.WriteString("\nDialogue example:\n" + d + "\n")
		}
		if n := strings.TrimSpace(ex.Narration); n != "" {
			b.WriteString("\nNarration example:\n" + n + "\n")
		}
	}

	return b.String()
}

// DedupeMemories drops blank entries and repeats, keeping first-occurrence order
func DedupeMemories(memories []string) []string {
	seen := make(map[string]struct{}, len(memories))
	out := make([]string, 0, len(memories))
	for _, m := range memories {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FormatHistory renders every message except the last as Human:/Assistant: lines
func FormatHistory(messages []models.Message) string {
	if len(messages) < 2 {
		return ""
	}
	lines := make([]string, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		lines = append(lines, speaker(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

func speaker(role string) string {
	if role == models.RoleAssistant {
		return "Assistant"
	}
	return "Human"
}

// ComposeUserContent joins the system prompt, the history block and the current
// turn into the single user-role content sent to the model.
func ComposeUserContent(system string, messages []models.Message) string {
	var b strings.Builder
	b.WriteString(system)
	if h := FormatHistory(messages); h != "" {
		b.WriteString("\nConversation so far:\n")
		b.WriteString(h)
		b.WriteString("\n")
	}
	if len(messages) > 0 {
		b.WriteString("\nHuman: " + messages[len(messages)-1].Content + "\nAssistant:")
	}
	return b.String()
}
