// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"encoding/json"
	"errors"
	"maps"
)

// Outbound message types understood by the backend.
const (
	TypeJoinProject  = "join_project"
	TypeLeaveProject = "leave_project"
	TypeTypingStart  = "typing_start"
	TypeTypingStop   = "typing_stop"
	TypeChatMessage  = "chat_message"
)

// Message is a backend socket frame. On the wire the payload fields sit
// next to "type" at the top level.
type Message struct {
	Type    string
	Payload map[string]any
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+1)
	maps.Copy(out, m.Payload)
	out["type"] = m.Type
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, ok := raw["type"].(string)
	if !ok || t == "" {
		return errors.New("message has no type")
	}
	delete(raw, "type")
	m.Type = t
	m.Payload = raw
	return nil
}

// Handler receives inbound messages of a subscribed type.
type Handler func(Message)
