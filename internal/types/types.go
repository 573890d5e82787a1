// Package types holds the persisted data model shared by the engine,
// the store, and the provider adapters.
package types

import "github.com/google/uuid"

// Message roles. Providers that speak the OpenAI dialect map RoleModel
// to "assistant" at request-build time.
const (
	RoleUser      = "user"
	RoleModel     = "model"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// World-book placement codes. Positions 0-3 are relative to the author
// note; position 4 places the entry inside chat history at an injection
// depth counted back from the newest user message.
const (
	PositionBeforeChar = 0
	PositionAfterChar  = 1
	PositionBeforeNote = 2
	PositionAfterNote  = 3
	PositionInHistory  = 4
)

// MessagePart is one text fragment of a message.
type MessagePart struct {
	Text string `json:"text"`
}

// ChatMessage is either a real conversational turn or a transient
// dynamic entry. Dynamic entries carry the world-book metadata
// (Constant, Position, InjectionDepth, Key) and are regenerated on
// every send; they are never the durable source of truth.
type ChatMessage struct {
	ID    string        `json:"id,omitempty"`
	Name  string        `json:"name,omitempty"`
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`

	IsDEntry        bool `json:"is_d_entry,omitempty"`
	IsFirstMes      bool `json:"is_first_mes,omitempty"`
	IsAuthorNote    bool `json:"is_author_note,omitempty"`
	IsMemorySummary bool `json:"is_memory_summary,omitempty"`

	Constant       *bool    `json:"constant,omitempty"`
	Position       *int     `json:"position,omitempty"`
	InjectionDepth *int     `json:"injection_depth,omitempty"`
	Key            []string `json:"key,omitempty"`

	// Identifier ties a skeleton element back to its preset prompt;
	// IsChatHistoryPlaceholder marks the splice point for live history.
	Identifier               string `json:"identifier,omitempty"`
	IsChatHistoryPlaceholder bool   `json:"is_chat_history_placeholder,omitempty"`
}

// Text returns the first part's text, or "" for a part-less message.
func (m *ChatMessage) Text() string {
	if len(m.Parts) == 0 {
		return ""
	}
	return m.Parts[0].Text
}

// NewTurn builds a real conversational message with a fresh stable ID.
func NewTurn(role, text string) ChatMessage {
	return ChatMessage{
		ID:    uuid.NewString(),
		Role:  role,
		Parts: []MessagePart{{Text: text}},
	}
}

// ChatHistoryEntity is the persisted rolling history of one
// conversation. Between turns the persisted form contains zero dynamic
// entries; they are computed fresh on every send.
type ChatHistoryEntity struct {
	Name       string        `json:"name"`
	Role       string        `json:"role"`
	Parts      []ChatMessage `json:"parts"`
	Identifier string        `json:"identifier"`
}

// RoleCard is the character definition.
type RoleCard struct {
	Name        string        `json:"name"`
	FirstMes    string        `json:"first_mes"`
	Description string        `json:"description"`
	Personality string        `json:"personality"`
	Scenario    string        `json:"scenario"`
	MesExample  string        `json:"mes_example"`
	Data        *RoleCardData `json:"data,omitempty"`
}

// RoleCardData carries optional embedded extensions, currently only
// character-scoped regex scripts.
type RoleCardData struct {
	Extensions *RoleCardExtensions `json:"extensions,omitempty"`
}

type RoleCardExtensions struct {
	RegexScripts []RegexScript `json:"regex_scripts,omitempty"`
}

// WorldBookEntry is one named lore entry.
type WorldBookEntry struct {
	Content  string   `json:"content"`
	Position int      `json:"position"`
	Constant bool     `json:"constant"`
	Key      []string `json:"key,omitempty"`
	Depth    int      `json:"depth"`
	Disabled bool     `json:"disable,omitempty"`
}

// WorldBook maps entry name to entry.
type WorldBook struct {
	Entries map[string]WorldBookEntry `json:"entries"`
}

// PresetPrompt is one addressable prompt segment.
type PresetPrompt struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	Content    string `json:"content"`
	Role       string `json:"role,omitempty"`
	Enable     *bool  `json:"enable,omitempty"`
}

// PresetOrderEntry references a prompt by identifier within the render order.
type PresetOrderEntry struct {
	Identifier string `json:"identifier"`
	Enabled    bool   `json:"enabled"`
}

type PresetOrder struct {
	Order []PresetOrderEntry `json:"order"`
}

// Preset is an ordered list of prompt segments plus an explicit render order.
type Preset struct {
	Prompts     []PresetPrompt `json:"prompts"`
	PromptOrder []PresetOrder  `json:"prompt_order"`
}

// AuthorNote is free text injected at a recency depth.
type AuthorNote struct {
	Content        string `json:"content"`
	InjectionDepth int    `json:"injection_depth"`
}

// RegexScript is one find/replace rewrite rule. FindRegex may be a bare
// pattern or "/pattern/flags"; empty flags default to global matching.
// Placement 1 applies to raw user input, 2 to raw model output.
type RegexScript struct {
	ScriptName    string `json:"scriptName"`
	FindRegex     string `json:"findRegex"`
	ReplaceString string `json:"replaceString"`
	Flags         string `json:"flags,omitempty"`
	Placement     []int  `json:"placement,omitempty"`
	Disabled      bool   `json:"disabled,omitempty"`
}

// Script group binding kinds.
const (
	BindAll       = "all"
	BindCharacter = "character"
)

// RegexScriptGroup binds a script set to all characters or to one.
type RegexScriptGroup struct {
	BindType        string        `json:"bindType"`
	BindCharacterID string        `json:"bindCharacterId,omitempty"`
	Scripts         []RegexScript `json:"scripts"`
}

// GlobalRegexConfig is the persisted global rule state.
type GlobalRegexConfig struct {
	Enabled bool               `json:"enabled"`
	Groups  []RegexScriptGroup `json:"groups"`
}

// GlobalPresetConfig, when enabled, overrides every character's own preset.
type GlobalPresetConfig struct {
	Enabled bool    `json:"enabled"`
	Preset  *Preset `json:"preset,omitempty"`
}

// Global worldbook merge priorities. Global priority lets shared
// entries win name collisions; character priority keeps the
// character's own.
const (
	WorldbookPriorityGlobal    = "global"
	WorldbookPriorityCharacter = "character"
)

// GlobalWorldbookConfig, when enabled, merges a shared world book with
// every character's own at entry-extraction time.
type GlobalWorldbookConfig struct {
	Enabled   bool       `json:"enabled"`
	Priority  string     `json:"priority,omitempty"`
	Worldbook *WorldBook `json:"worldbook,omitempty"`
}

// CustomUserSetting is persona text the user attaches globally or per
// character; it becomes a constant dynamic entry at send time.
type CustomUserSetting struct {
	Comment  string `json:"comment,omitempty"`
	Content  string `json:"content"`
	Position int    `json:"position,omitempty"`
	Depth    int    `json:"depth,omitempty"`
	Disable  bool   `json:"disable,omitempty"`
	Global   bool   `json:"global,omitempty"`
}

// Provider kinds for adapter dispatch.
const (
	ProviderGemini           = "gemini"
	ProviderOpenRouter       = "openrouter"
	ProviderOpenAICompatible = "openai-compatible"
)

// OpenRouterSettings configures the OpenRouter adapter.
type OpenRouterSettings struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
}

// OpenAICompatibleSettings configures any OpenAI-dialect endpoint.
type OpenAICompatibleSettings struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	APIKey    string `json:"apiKey"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// ProviderSettings selects and configures the active adapter. The
// dispatcher re-resolves whenever these change.
type ProviderSettings struct {
	Provider         string                    `json:"apiProvider"`
	GeminiAPIKey     string                    `json:"geminiApiKey,omitempty"`
	GeminiModel      string                    `json:"geminiModel,omitempty"`
	Temperature      *float64                  `json:"temperature,omitempty"`
	OpenRouter       *OpenRouterSettings       `json:"openrouter,omitempty"`
	OpenAICompatible *OpenAICompatibleSettings `json:"openAICompatible,omitempty"`
}
