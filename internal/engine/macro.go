package engine

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/rzline/CradleAI/internal/types"
)

var (
	randomMacro = regexp.MustCompile(`\{\{random(::.*?)?\}\}`)
	rollMacro   = regexp.MustCompile(`\{\{roll::(\d+|d\d+)\}\}`)
)

// MacroContext carries the per-turn substitution inputs.
type MacroContext struct {
	LastMessage string
	CharName    string
	UserName    string
	// History backs {{lastcharmessage}}: the nearest prior non-dynamic
	// model message found by reverse scan.
	History []types.ChatMessage
}

// ReplacePlaceholders evaluates the built-in macros over text. A text
// without macros passes through unchanged.
func ReplacePlaceholders(text string, mc MacroContext) string {
	text = strings.ReplaceAll(text, "{{lastMessage}}", mc.LastMessage)
	text = strings.ReplaceAll(text, "{{char}}", mc.CharName)
	text = strings.ReplaceAll(text, "{{user}}", mc.UserName)

	if strings.Contains(text, "{{lastcharmessage}}") {
		text = strings.ReplaceAll(text, "{{lastcharmessage}}", lastCharMessage(mc.History))
	}

	text = randomMacro.ReplaceAllStringFunc(text, func(match string) string {
		if match == "{{random}}" {
			return strconv.FormatFloat(rand.Float64(), 'f', -1, 64)
		}
		body := strings.TrimSuffix(strings.TrimPrefix(match, "{{random::"), "}}")
		var choices []string
		for _, c := range strings.Split(body, "::") {
			if c != "" {
				choices = append(choices, c)
			}
		}
		if len(choices) == 0 {
			return strconv.FormatFloat(rand.Float64(), 'f', -1, 64)
		}
		return choices[rand.IntN(len(choices))]
	})

	text = rollMacro.ReplaceAllStringFunc(text, func(match string) string {
		value := rollMacro.FindStringSubmatch(match)[1]
		value = strings.TrimPrefix(value, "d")
		max, err := strconv.Atoi(value)
		if err != nil || max < 1 {
			return "1"
		}
		return strconv.Itoa(rand.IntN(max) + 1)
	})

	return text
}

func lastCharMessage(history []types.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.IsDEntry {
			continue
		}
		if (msg.Role == types.RoleModel || msg.Role == types.RoleAssistant) && msg.Text() != "" {
			return msg.Text()
		}
	}
	return ""
}
