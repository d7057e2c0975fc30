// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"fmt"

	"github.com/go-json-experiment/json/jsontext"
)

// PartType identifies the kind of content a Part carries.
type PartType string

// The closed set of part kinds. Anything else is rejected at the boundary.
const (
	PartTypeText PartType = "text"
	PartTypeData PartType = "data"
	PartTypeFile PartType = "file"
)

// FileContent references a file either by URI or by embedded base64 bytes.
// Exactly one of URI or Bytes must be set.
type FileContent struct {
	Name     string `json:"name,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
	URI      string `json:"uri,omitzero"`
	Bytes    string `json:"bytes,omitzero"`
}

// Validate ensures the FileContent is valid.
func (f FileContent) Validate() error {
	if f.URI == "" && f.Bytes == "" {
		return fmt.Errorf("file part requires either uri or bytes")
	}
	if f.URI != "" && f.Bytes != "" {
		return fmt.Errorf("file part cannot carry both uri and bytes")
	}
	return nil
}

// Part is a tagged variant over the closed set of content kinds. The Type
// field selects which of the remaining fields is meaningful.
type Part struct {
	Type PartType       `json:"type"`
	Text string         `json:"text,omitzero"`
	Data jsontext.Value `json:"data,omitzero"`
	File *FileContent   `json:"file,omitzero"`
}

// Validate ensures the Part carries the fields its type requires and
// nothing else.
func (p Part) Validate() error {
	switch p.Type {
	case PartTypeText:
		if p.Text == "" {
			return fmt.Errorf("text part requires text")
		}
	case PartTypeData:
		if len(p.Data) == 0 {
			return fmt.Errorf("data part requires data")
		}
	case PartTypeFile:
		if p.File == nil {
			return fmt.Errorf("file part requires file")
		}
		return p.File.Validate()
	default:
		return fmt.Errorf("unknown part type: %q", p.Type)
	}
	return nil
}

// NewTextPart creates a text Part.
func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// NewDataPart creates a structured-data Part from raw JSON.
func NewDataPart(data jsontext.Value) Part {
	return Part{Type: PartTypeData, Data: data}
}

// NewFilePart creates a file-reference Part.
func NewFilePart(file FileContent) Part {
	return Part{Type: PartTypeFile, File: &file}
}

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message represents one turn in a task's history, from either the user
// or the agent.
type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Validate ensures the Message is valid.
func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleAgent {
		return fmt.Errorf("unknown message role: %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message requires at least one part")
	}
	for i, part := range m.Parts {
		if err := part.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// Text concatenates the message's text parts. Non-text parts are skipped.
func (m Message) Text() string {
	var out string
	for _, part := range m.Parts {
		if part.Type == PartTypeText {
			out += part.Text
		}
	}
	return out
}

// NewUserMessage creates a user message with a single text part.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{NewTextPart(text)}}
}

// NewAgentMessage creates an agent message with a single text part.
func NewAgentMessage(text string) Message {
	return Message{Role: RoleAgent, Parts: []Part{NewTextPart(text)}}
}

// Artifact represents an output chunk produced during a task, addressed by
// Index. When Append is true the chunk extends the artifact already stored
// at that index instead of replacing it.
type Artifact struct {
	Name        string `json:"name,omitzero"`
	Description string `json:"description,omitzero"`
	Parts       []Part `json:"parts"`
	Index       int    `json:"index"`
	Append      bool   `json:"append,omitzero"`
	LastChunk   bool   `json:"lastChunk,omitzero"`
}

// Validate ensures the Artifact is valid.
func (a Artifact) Validate() error {
	if a.Index < 0 {
		return fmt.Errorf("artifact index cannot be negative")
	}
	if len(a.Parts) == 0 {
		return fmt.Errorf("artifact requires at least one part")
	}
	for i, part := range a.Parts {
		if err := part.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// Text concatenates the artifact's text parts. Non-text parts are skipped.
func (a Artifact) Text() string {
	var out string
	for _, part := range a.Parts {
		if part.Type == PartTypeText {
			out += part.Text
		}
	}
	return out
}
