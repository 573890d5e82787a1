package engine

import (
	"sort"
	"strings"

	"github.com/rzline/CradleAI/internal/types"
)

// InsertDEntries merges candidate dynamic entries into a history at
// depth- and placement-correct positions. The history may contain stale
// dynamic entries from a previous merge; those are stripped first, so
// applying the merge twice with the same candidates and base text
// yields identical output.
//
// baseText anchors depth-relative placement: depth K means K real
// messages before the newest user message whose text equals baseText.
// When no such message exists the clean history is returned unchanged.
func InsertDEntries(history types.ChatHistoryEntity, entries []types.ChatMessage, baseText string) types.ChatHistoryEntity {
	clean := stripDEntries(history.Parts)

	baseIndex := -1
	for i, msg := range clean {
		if msg.Role == types.RoleUser && msg.Text() == baseText {
			baseIndex = i
			break
		}
	}
	if baseIndex == -1 {
		history.Parts = clean
		return history
	}

	var valid []types.ChatMessage
	for _, entry := range entries {
		if shouldIncludeDEntry(entry, clean) {
			valid = append(valid, entry)
		}
	}

	byDepth := make(map[int][]types.ChatMessage)
	for _, entry := range valid {
		if entry.Position == nil || *entry.Position != types.PositionInHistory {
			continue
		}
		depth := 0
		if entry.InjectionDepth != nil {
			depth = *entry.InjectionDepth
		}
		entry.IsDEntry = true
		byDepth[depth] = append(byDepth[depth], entry)
	}

	final := make([]types.ChatMessage, 0, len(clean)+len(valid))

	// Depths deeper than the history itself clamp to its start, deepest first.
	var overflow []int
	for depth := range byDepth {
		if depth > baseIndex {
			overflow = append(overflow, depth)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(overflow)))
	for _, depth := range overflow {
		final = append(final, byDepth[depth]...)
	}

	for i, msg := range clean {
		if i < baseIndex {
			if depth := baseIndex - i; depth > 0 {
				final = append(final, byDepth[depth]...)
			}
		}
		final = append(final, msg)
		if i == baseIndex {
			final = append(final, byDepth[0]...)
		}
	}

	noteIndex := -1
	for i, msg := range final {
		if msg.IsAuthorNote {
			noteIndex = i
			break
		}
	}

	var beforeNote, afterNote, orphans []types.ChatMessage
	for _, entry := range valid {
		if entry.Position != nil && *entry.Position == types.PositionInHistory {
			continue
		}
		entry.IsDEntry = true
		switch {
		case noteIndex != -1 && entry.Position != nil && *entry.Position == types.PositionBeforeNote:
			beforeNote = append(beforeNote, entry)
		case noteIndex != -1 && entry.Position != nil && *entry.Position == types.PositionAfterNote:
			afterNote = append(afterNote, entry)
		case entry.IsAuthorNote:
			orphans = append(orphans, entry)
		}
	}
	if len(beforeNote) > 0 || len(afterNote) > 0 {
		spliced := make([]types.ChatMessage, 0, len(final)+len(beforeNote)+len(afterNote))
		spliced = append(spliced, final[:noteIndex]...)
		spliced = append(spliced, beforeNote...)
		spliced = append(spliced, final[noteIndex])
		spliced = append(spliced, afterNote...)
		spliced = append(spliced, final[noteIndex+1:]...)
		final = spliced
	}
	final = append(final, orphans...)

	history.Parts = final
	return history
}

// shouldIncludeDEntry applies the inclusion filter: author notes and
// constant entries always pass; keyed entries require one of their
// trigger words, case-insensitively, somewhere in the clean history.
func shouldIncludeDEntry(entry types.ChatMessage, messages []types.ChatMessage) bool {
	if entry.IsAuthorNote || entry.Name == "Author Note" {
		return true
	}
	if entry.Constant == nil {
		return false
	}
	if *entry.Constant {
		return true
	}
	if len(entry.Key) == 0 {
		return false
	}

	var sb strings.Builder
	for i, msg := range messages {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(msg.Text())
	}
	allText := strings.ToLower(sb.String())

	for _, key := range entry.Key {
		if key != "" && strings.Contains(allText, strings.ToLower(key)) {
			return true
		}
	}
	return false
}

func stripDEntries(parts []types.ChatMessage) []types.ChatMessage {
	clean := make([]types.ChatMessage, 0, len(parts))
	for _, msg := range parts {
		if !msg.IsDEntry {
			clean = append(clean, msg)
		}
	}
	return clean
}
