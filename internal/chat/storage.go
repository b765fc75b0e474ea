// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chat persists chat sessions as one JSON file per chat.
package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Widget is the frontend payload attached to a tool-result message.
type Widget struct {
	Type   string         `json:"type"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Chain  any            `json:"chain,omitempty"`
	Stale  bool           `json:"stale,omitempty"`
}

// Message is one chat entry.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"ts,omitzero"`
	Model   string    `json:"model,omitempty"`
	Widget  *Widget   `json:"widget,omitempty"`
}

// Chat is the persisted record.
type Chat struct {
	ID       string    `json:"id"`
	Title    string    `json:"title,omitempty"`
	Created  time.Time `json:"created"`
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

// Summary is the listing entry returned by List.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Created      time.Time `json:"created"`
	MessageCount int       `json:"message_count"`
}

// Storage writes chats under one directory, named
// {user_slug}-{chat_id}.json, or {chat_id}.json for anonymous chats.
type Storage struct {
	dir string
	log *slog.Logger
}

// NewStorage creates the chat directory if needed.
func NewStorage(dir string, log *slog.Logger) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating chats dir: %w", err)
	}
	return &Storage{dir: dir, log: log}, nil
}

// NewChatID derives a short id from the current timestamp.
func NewChatID() string {
	sum := sha256.Sum256([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:8]
}

func (s *Storage) path(chatID, userSlug string) string {
	if userSlug != "" {
		return filepath.Join(s.dir, userSlug+"-"+chatID+".json")
	}
	return filepath.Join(s.dir, chatID+".json")
}

// Save writes the chat, preserving title, created, and model from an
// existing file when the caller leaves them empty.
func (s *Storage) Save(chat Chat, userSlug string) error {
	if chat.Created.IsZero() {
		chat.Created = time.Now().UTC()
	}
	if existing, err := s.Load(chat.ID, userSlug); err == nil {
		chat.Created = existing.Created
		if chat.Title == "" {
			chat.Title = existing.Title
		}
		if chat.Model == "" {
			chat.Model = existing.Model
		}
	}

	data, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding chat %s: %w", chat.ID, err)
	}
	if err := os.WriteFile(s.path(chat.ID, userSlug), data, 0o644); err != nil {
		return fmt.Errorf("writing chat %s: %w", chat.ID, err)
	}
	return nil
}

// Load reads one chat. Returns os.ErrNotExist when absent.
func (s *Storage) Load(chatID, userSlug string) (*Chat, error) {
	data, err := os.ReadFile(s.path(chatID, userSlug))
	if err != nil {
		return nil, err
	}
	var chat Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("decoding chat %s: %w", chatID, err)
	}
	return &chat, nil
}

// UpdateTitle rewrites just the title of a stored chat.
func (s *Storage) UpdateTitle(chatID, userSlug, title string) error {
	chat, err := s.Load(chatID, userSlug)
	if err != nil {
		return err
	}
	chat.Title = title
	data, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(chatID, userSlug), data, 0o644)
}

// Delete removes a chat file. Reports whether it existed.
func (s *Storage) Delete(chatID, userSlug string) bool {
	err := os.Remove(s.path(chatID, userSlug))
	return err == nil
}

// List returns the user's chats, newest first. Malformed files are
// skipped with a warning.
func (s *Storage) List(userSlug string) []Summary {
	pattern := "*.json"
	prefix := ""
	if userSlug != "" {
		prefix = userSlug + "-"
		pattern = prefix + "*.json"
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, pattern))
	if err != nil {
		return nil
	}

	type entry struct {
		summary Summary
		mtime   time.Time
	}
	var entries []entry
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var chat Chat
		if err := json.Unmarshal(data, &chat); err != nil {
			s.log.Warn("skipping malformed chat file", "path", path)
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(path), ".json")
		entries = append(entries, entry{
			summary: Summary{
				ID:           strings.TrimPrefix(stem, prefix),
				Title:        chat.Title,
				Created:      chat.Created,
				MessageCount: len(chat.Messages),
			},
			mtime: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.After(entries[j].mtime) })

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.summary)
	}
	return out
}
