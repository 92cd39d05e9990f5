package lsp

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Hover struct {
	Contents TextualContent `json:"contents"`
	Range    *Range         `json:"range,omitempty"`
}

type MarkupKind string

const (
	PlainText MarkupKind = "plaintext"
	Markdown  MarkupKind = "markdown"
)

type MarkupContent struct {
	Kind  MarkupKind `json:"kind"`
	Value string     `json:"value"`
}

// TextualContent is the hover payload in any of the shapes servers send: a
// bare string, a MarkupContent, a MarkedString {language, value}, or an array
// of those. It is normalized once, at decode time, into plain text.
type TextualContent struct {
	parts []string
}

// NewTextualContent builds content from already-plain parts.
func NewTextualContent(parts ...string) TextualContent {
	return TextualContent{parts: parts}
}

// String joins the parts with a blank line.
func (c TextualContent) String() string {
	return strings.Join(c.parts, "\n\n")
}

// Empty reports whether the server sent nothing usable.
func (c TextualContent) Empty() bool {
	return strings.TrimSpace(c.String()) == ""
}

func (c TextualContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(MarkupContent{Kind: Markdown, Value: c.String()})
}

func (c *TextualContent) UnmarshalJSON(data []byte) error {
	*c = TextualContent{}
	if IsNull(data) {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		for _, item := range list {
			part, err := decodeTextPart(item)
			if err != nil {
				return err
			}
			if part != "" {
				c.parts = append(c.parts, part)
			}
		}
		return nil
	}
	part, err := decodeTextPart(data)
	if err != nil {
		return err
	}
	if part != "" {
		c.parts = []string{part}
	}
	return nil
}

func decodeTextPart(data json.RawMessage) (string, error) {
	if IsNull(data) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Kind     string `json:"kind"`
		Language string `json:"language"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("unsupported textual content %s: %w", string(data), err)
	}
	return obj.Value, nil
}
