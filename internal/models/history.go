package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// HistoryVersion is the current schema version of the stored chat history.
//
// Version 0: bare flat message array, assistant turns tagged role "bot".
// Version 1: bare session array, no envelope.
// Version 2: {"version": 2, "sessions": [...]}.
const HistoryVersion = 2

// LegacySessionTitle names the single session a flat transcript is wrapped
// into during migration.
const LegacySessionTitle = "Previous Conversation"

// History is the version-tagged envelope persisted in the chat_history field.
type History struct {
	Version  int           `json:"version"`
	Sessions []ChatSession `json:"sessions"`
}

// legacyMessage is the shape of one turn in a version-0 flat transcript.
type legacyMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl"`
}

// DecodeHistory reads any historical shape of a stored chat history and
// returns the session list in current form. migrated reports whether the
// stored bytes were in an older shape and should be persisted back.
// A missing or empty history yields (nil, false, nil); the caller is
// responsible for synthesizing the first session.
func DecodeHistory(raw json.RawMessage, now time.Time) (sessions []ChatSession, migrated bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	if raw[0] == '[' {
		return decodeLegacyArray(raw, now)
	}

	var h History
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, false, fmt.Errorf("decode chat history: %w", err)
	}
	// An envelope with a stale or absent version tag is re-tagged on the
	// next synchronize; the session shape itself has not changed since v1.
	return h.Sessions, h.Version != HistoryVersion, nil
}

// EncodeHistory serializes sessions in the current versioned envelope.
func EncodeHistory(sessions []ChatSession) (json.RawMessage, error) {
	if sessions == nil {
		sessions = []ChatSession{}
	}
	raw, err := json.Marshal(History{Version: HistoryVersion, Sessions: sessions})
	if err != nil {
		return nil, fmt.Errorf("encode chat history: %w", err)
	}
	return raw, nil
}

// decodeLegacyArray handles the two pre-envelope shapes: a session array
// (v1) and a flat message array (v0).
func decodeLegacyArray(raw json.RawMessage, now time.Time) ([]ChatSession, bool, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, false, fmt.Errorf("decode legacy chat history: %w", err)
	}
	if len(elems) == 0 {
		return nil, false, nil
	}

	var probe struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(elems[0], &probe); err != nil {
		return nil, false, fmt.Errorf("probe legacy chat history: %w", err)
	}

	if probe.Messages != nil {
		var sessions []ChatSession
		if err := json.Unmarshal(raw, &sessions); err != nil {
			return nil, false, fmt.Errorf("decode legacy session list: %w", err)
		}
		return sessions, true, nil
	}

	var flat []legacyMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, false, fmt.Errorf("decode legacy transcript: %w", err)
	}
	return []ChatSession{wrapLegacyTranscript(flat, now)}, true, nil
}

// wrapLegacyTranscript lifts a v0 flat transcript into one session. Pure:
// same input always yields the same session apart from the timestamp.
func wrapLegacyTranscript(flat []legacyMessage, now time.Time) ChatSession {
	msgs := make([]ChatMessage, 0, len(flat))
	for _, m := range flat {
		role := m.Role
		if role == "bot" {
			role = RoleAssistant
		}
		msgs = append(msgs, ChatMessage{Role: role, Content: m.Content, ImageURL: m.ImageURL})
	}
	return ChatSession{
		ID:        "legacy",
		Title:     LegacySessionTitle,
		Messages:  msgs,
		UpdatedAt: now,
	}
}
