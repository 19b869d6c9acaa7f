package openai

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSONArray = errors.New("no JSON array in response")

// DecodeJSONArray extracts the first JSON array from a model response and
// unmarshals it into v. Code fences and surrounding prose are tolerated.
func DecodeJSONArray(text string, v any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return errNoJSONArray
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}
