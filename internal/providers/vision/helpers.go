package vision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"pagebatch/internal/domain"
)

const textPrompt = "Extract all text from this English textbook page. Keep simple formatting (paragraphs, exercise numbers). " +
	"Mark gaps in gap-fill exercises as [gap]. Keep the structure of dialogues. " +
	"Use only the formatting needed to keep the text readable."

const structuredPrompt = `Analyse this page of an English File textbook and build a JSON object with this structure:

{
  "metadata": {"pageNumber": number, "unitNumber": string, "lessonID": string (for example 1A, 2B), "lessonTitle": string},
  "sections": [{
    "title": string (for example LISTENING & SPEAKING, GRAMMAR, VOCABULARY, PRONUNCIATION),
    "exercises": [{
      "id": string (exercise number),
      "type": string (listening, speaking, reading, writing, grammar, vocabulary, pronunciation),
      "instructions": string,
      "content": {
        "dialogues": [{"number": number, "context": string, "exchanges": [{"speaker": string, "text": string}]}],
        "items": [string],
        "gapFill": [string],
        "images": [string]
      }
    }]
  }],
  "grammarPoints": [{"title": string, "rules": [string], "examples": [string]}],
  "vocabularyItems": [{"word": string, "translation": string, "phonetic": string, "category": string}],
  "pronunciationFocus": {"sounds": [string], "examples": [string]},
  "mediaReferences": {"audio": [string] (for example 1.2, 1.3), "video": [string], "externalPages": [string] (for example p.92)},
  "visualElements": [{"type": string (photo, chart, table), "id": number, "description": string}]
}

IMPORTANT:
1. Return ONLY the JSON object, without explanations or markdown.
2. Use an empty array [] for every section missing from the page.
3. Describe the situation of each dialogue briefly in dialogues.context.
4. Include every audio and video reference in mediaReferences.
5. Extract the information as completely as possible while keeping it structured.
6. Describe the page content without copying long passages verbatim.
7. Give the type and goal of every exercise.
8. Organise the material logically even if the page presents it in another order.`

var stringArray = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

// pageSchema is deliberately loose: the model may omit optional sections, but
// whatever it returns must have the documented shape.
var pageSchema = map[string]any{
	"$schema":  "http://json-schema.org/draft-07/schema#",
	"type":     "object",
	"required": []any{"metadata", "sections"},
	"properties": map[string]any{
		"metadata": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pageNumber":  map[string]any{"type": []any{"integer", "null"}},
				"unitNumber":  map[string]any{"type": []any{"string", "number", "null"}},
				"lessonID":    map[string]any{"type": []any{"string", "null"}},
				"lessonTitle": map[string]any{"type": []any{"string", "null"}},
			},
		},
		"sections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"title"},
				"properties": map[string]any{
					"title": map[string]any{"type": "string"},
					"exercises": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id":           map[string]any{"type": []any{"string", "number"}},
								"type":         map[string]any{"type": "string"},
								"instructions": map[string]any{"type": "string"},
								"content":      map[string]any{"type": "object"},
							},
						},
					},
				},
			},
		},
		"grammarPoints": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":    map[string]any{"type": "string"},
					"rules":    stringArray,
					"examples": stringArray,
				},
			},
		},
		"vocabularyItems": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":       "object",
				"required":   []any{"word"},
				"properties": map[string]any{"word": map[string]any{"type": "string"}},
			},
		},
		"pronunciationFocus": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sounds":   stringArray,
				"examples": stringArray,
			},
		},
		"mediaReferences": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"audio":         stringArray,
				"video":         stringArray,
				"externalPages": stringArray,
			},
		},
		"visualElements": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
	},
}

func compilePageSchema() (*jsonschema.Schema, error) {
	b, err := json.Marshal(pageSchema)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("page.json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return compiler.Compile("page.json")
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// pageValue turns the model's answer into the page result: a JSON string in
// text mode, a schema-checked compact JSON object in structured mode.
func pageValue(schema *jsonschema.Schema, text string, structured bool) (json.RawMessage, error) {
	if !structured {
		raw, err := json.Marshal(text)
		if err != nil {
			return nil, fmt.Errorf("%w: encode page text: %w", domain.ErrProviderFailure, err)
		}
		return raw, nil
	}
	fragment := extractJSONFragment(text)
	if fragment == "" {
		return nil, fmt.Errorf("%w: no JSON in structured response", domain.ErrProviderFailure)
	}
	var doc any
	if err := json.Unmarshal([]byte(fragment), &doc); err != nil {
		return nil, fmt.Errorf("%w: structured response is not valid JSON: %w", domain.ErrProviderFailure, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: structured page does not match schema: %w", domain.ErrProviderFailure, err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(fragment)); err != nil {
		return nil, fmt.Errorf("%w: compact structured page: %w", domain.ErrProviderFailure, err)
	}
	return compact.Bytes(), nil
}
