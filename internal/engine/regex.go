package engine

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/rzline/CradleAI/internal/types"
)

// Rewrite placements.
const (
	PlacementUserInput = 1
	PlacementAIOutput  = 2
)

// BoundScript tags a script with the group binding it inherited, so
// character-scoped, global-all and global-bound rules all evaluate
// through one function.
type BoundScript struct {
	script          types.RegexScript
	bindType        string
	bindCharacterID string
}

// FlattenScriptGroups tags every script in the given groups with its
// group binding. Groups bound to another character are kept here and
// filtered at application time, matching how rules are re-checked after
// configuration reloads.
func FlattenScriptGroups(groups []types.RegexScriptGroup) []BoundScript {
	var rules []BoundScript
	for _, group := range groups {
		for _, script := range group.Scripts {
			rules = append(rules, BoundScript{
				script:          script,
				bindType:        group.BindType,
				bindCharacterID: group.BindCharacterID,
			})
		}
	}
	return rules
}

// ApplyGlobalRegexScripts runs the tagged global rules over text for
// one placement. A malformed rule is skipped; the remaining rules still
// apply and the text survives untouched by the bad rule.
func ApplyGlobalRegexScripts(text string, rules []BoundScript, placement int, characterID string) string {
	result := text
	for _, rule := range rules {
		switch rule.bindType {
		case types.BindAll:
			// bound to every character
		case types.BindCharacter:
			if characterID == "" || rule.bindCharacterID != characterID {
				continue
			}
		case "":
			// legacy rules without a declared binding stay applicable
		default:
			continue
		}

		script := rule.script
		if script.Disabled || script.FindRegex == "" {
			continue
		}
		if !placementMatches(script.Placement, placement) {
			continue
		}
		result = applyScript(result, script)
	}
	return result
}

// ApplyCharacterRegexScripts runs a role card's embedded rules over
// skeleton or history text. Placement codes are not consulted here;
// character rules apply wherever the card's text is rendered.
func ApplyCharacterRegexScripts(text string, scripts []types.RegexScript) string {
	result := text
	for _, script := range scripts {
		if script.Disabled || script.FindRegex == "" || script.ReplaceString == "" {
			continue
		}
		result = applyScript(result, script)
	}
	return result
}

func placementMatches(placements []int, placement int) bool {
	for _, p := range placements {
		if p == placement {
			return true
		}
	}
	return false
}

// applyScript compiles and applies one rule. The pattern may be written
// bare or as /pattern/flags; empty flags default to global matching.
func applyScript(text string, script types.RegexScript) string {
	pattern, flags := splitPatternFlags(script.FindRegex, script.Flags)
	if flags == "" {
		flags = "g"
	}

	re, global, err := compileScript(pattern, flags)
	if err != nil {
		slog.Warn("skipping malformed regex script",
			"script", script.ScriptName, "pattern", script.FindRegex, "error", err.Error())
		return text
	}

	if global {
		return re.ReplaceAllString(text, script.ReplaceString)
	}
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return text
	}
	expanded := re.ExpandString(nil, script.ReplaceString, text, loc)
	return text[:loc[0]] + string(expanded) + text[loc[1]:]
}

var slashPattern = regexp.MustCompile(`^/(.+)/([a-zA-Z]*)$`)

func splitPatternFlags(findRegex, flags string) (string, string) {
	if m := slashPattern.FindStringSubmatch(findRegex); m != nil {
		if m[2] != "" {
			return m[1], m[2]
		}
		return m[1], flags
	}
	return findRegex, flags
}

// compileScript maps JS-style flags onto Go's inline flag syntax and
// reports whether matching is global.
func compileScript(pattern, flags string) (*regexp.Regexp, bool, error) {
	var inline strings.Builder
	global := false
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i':
			inline.WriteString("i")
		case 'm':
			inline.WriteString("m")
		case 's':
			inline.WriteString("s")
		}
	}
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false, err
	}
	return re, global, nil
}
