package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PromptKind tags which field of a Prompt is populated.
type PromptKind int

const (
	PromptEmpty PromptKind = iota
	PromptRaw
	PromptStructured
	PromptOther
)

// Prompt is the user's input as it arrived on the wire: a plain string, an
// object (usually carrying a "text" key) or any other JSON value.
type Prompt struct {
	Kind       PromptKind
	Raw        string
	Structured map[string]any
	Other      any
}

// RawPrompt wraps a plain string.
func RawPrompt(s string) Prompt {
	return Prompt{Kind: PromptRaw, Raw: s}
}

// ParsePrompt decodes a JSON value into a Prompt. An absent value or JSON null
// yields an empty prompt.
func ParsePrompt(data json.RawMessage) (Prompt, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Prompt{}, nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Prompt{}, fmt.Errorf("decode prompt string: %w", err)
		}
		return RawPrompt(s), nil
	case '{':
		var m map[string]any
		if err := decodeNumbers(data, &m); err != nil {
			return Prompt{}, fmt.Errorf("decode prompt object: %w", err)
		}
		return Prompt{Kind: PromptStructured, Structured: m}, nil
	}

	var v any
	if err := decodeNumbers(data, &v); err != nil {
		return Prompt{}, fmt.Errorf("decode prompt: %w", err)
	}
	return Prompt{Kind: PromptOther, Other: v}, nil
}

// decodeNumbers decodes a single JSON value, keeping numbers as json.Number
// so large integers keep their digits.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after prompt value")
	}
	return nil
}

// Text extracts the prompt text. It never fails: a structured prompt yields its
// "text" entry, anything else its textual representation.
func (p Prompt) Text() string {
	switch p.Kind {
	case PromptRaw:
		return p.Raw
	case PromptStructured:
		if v, ok := p.Structured["text"]; ok {
			return stringify(v)
		}
		return stringify(p.Structured)
	case PromptOther:
		return stringify(p.Other)
	}
	return ""
}

// IsEmpty reports whether the prompt carries no usable text.
func (p Prompt) IsEmpty() bool {
	return strings.TrimSpace(p.Text()) == ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
