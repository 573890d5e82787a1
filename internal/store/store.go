// Package store persists the per-conversation JSON documents the engine
// works with. Each logical document (role card, world book, preset,
// author note, history, skeleton) lives under its own key and is read
// and written whole; the postgres implementation makes each write an
// atomic per-key upsert so a crash between two saves never leaves a
// torn document.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document suffixes. A conversation's documents share the key prefix
// "nodest_{conversationID}".
const (
	SuffixRole     = "_role"
	SuffixWorld    = "_world"
	SuffixPreset   = "_preset"
	SuffixNote     = "_note"
	SuffixHistory  = "_history"
	SuffixContents = "_contents"
)

// Global document keys, shared across conversations.
const (
	KeyGlobalPreset      = "nodest_global_preset"
	KeyGlobalRegex       = "nodest_global_regex"
	KeyGlobalWorldbook   = "nodest_global_worldbook"
	KeyGlobalUserSetting = "global_user_custom_setting"
)

// Key builds the storage key for one conversation document.
func Key(conversationID, suffix string) string {
	return "nodest_" + conversationID + suffix
}

// CharacterSettingKey addresses a per-character custom user setting.
func CharacterSettingKey(characterID string) string {
	return "character_" + characterID + "_custom_setting"
}

// BackupKey addresses a timestamped history snapshot.
func BackupKey(conversationID string, timestamp int64) string {
	return fmt.Sprintf("nodest_%s_history_backup_%d", conversationID, timestamp)
}

// Store is the async JSON key-value contract the engine requires.
// Load returns (nil, nil) for an absent key; corrupt payloads surface
// as a nil document upstream, treated the same as missing data.
type Store interface {
	Load(ctx context.Context, key string) (json.RawMessage, error)
	Save(ctx context.Context, key string, doc any) error
	Delete(ctx context.Context, key string) error
}

// LoadJSON loads and decodes one document into out. It reports
// (false, nil) when the key is absent or the payload does not parse,
// so callers can treat both as missing data.
func LoadJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, err := s.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, nil
	}
	return true, nil
}
