package prompt

import (
	"regexp"
	"strings"

	"poe-bridge/internal/wire"
)

// modelDirective matches a leading "#@<bot>" override in the latest message.
var modelDirective = regexp.MustCompile(`^\s*#@([\w.-]+)\s*`)

// Options controls how a request is flattened.
type Options struct {
	SystemPrompt string
	DefaultModel string
	ToolsEnabled bool
}

// Assembled is the single-turn prompt and the bot it should be sent to.
type Assembled struct {
	Prompt     string
	Model      string
	Overridden bool
}

// ResolveModel extracts a leading model directive from text. It returns the
// model to use and the text with the directive removed.
func ResolveModel(text, defaultModel string) (string, string, bool) {
	loc := modelDirective.FindStringSubmatchIndex(text)
	if loc == nil {
		return defaultModel, text, false
	}
	return text[loc[2]:loc[3]], text[loc[1]:], true
}

// Assemble flattens the system block, tool manifest and conversation history into
// one prompt. The upstream bot only accepts a single user turn.
func Assemble(req wire.ChatRequest, opts Options) Assembled {
	model := opts.DefaultModel
	overridden := false
	lastText := ""
	if n := len(req.Messages); n > 0 {
		model, lastText, overridden = ResolveModel(string(req.Messages[n-1].Content), opts.DefaultModel)
	}

	var history strings.Builder
	for i, msg := range req.Messages {
		if i > 0 {
			history.WriteString("\n")
		}
		content := string(msg.Content)
		if i == len(req.Messages)-1 {
			content = lastText
		}
		history.WriteString("**")
		history.WriteString(msg.Role)
		history.WriteString("**: ")
		history.WriteString(content)
	}

	system := opts.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = ChatPrompt()
		if opts.ToolsEnabled {
			system = AgentPrompt()
		}
	}

	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n")
	b.WriteString(FormatTools(req.Declarations(), opts.ToolsEnabled))
	b.WriteString("\n\n")
	b.WriteString(historyHeader)
	b.WriteString("\n")
	b.WriteString(history.String())
	b.WriteString("\n\n")
	b.WriteString(assistantCue)

	return Assembled{Prompt: b.String(), Model: model, Overridden: overridden}
}
