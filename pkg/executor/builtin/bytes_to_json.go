package builtin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/smilemakc/mbflow/pkg/executor"
)

// BytesToJsonExecutor decodes raw bytes into a JSON value, handling the
// encodings a webhook/queue payload commonly arrives in.
type BytesToJsonExecutor struct {
	*executor.BaseExecutor
}

// NewBytesToJsonExecutor creates a new bytes-to-JSON executor.
func NewBytesToJsonExecutor() *BytesToJsonExecutor {
	return &BytesToJsonExecutor{
		BaseExecutor: executor.NewBaseExecutor("bytes_to_json"),
	}
}

// Execute decodes input bytes to a parsed JSON value.
//
// Config:
//   - encoding: "utf-8" | "utf-16" | "latin1" (default: "utf-8")
//   - validate_json: validate JSON structure (default: true)
//
// Input: bytes ([]byte, string, or map with "data" field)
func (e *BytesToJsonExecutor) Execute(ctx context.Context, config map[string]any, input any) (any, error) {
	startTime := time.Now()

	encoding := e.GetStringDefault(config, "encoding", "utf-8")
	validateJSON := e.GetBoolDefault(config, "validate_json", true)

	data, err := e.extractBytes(input)
	if err != nil {
		return nil, fmt.Errorf("bytes_to_json: %w", err)
	}

	originalSize := len(data)

	actualEncoding := encoding
	if encoding == "utf-8" {
		if detected := e.detectEncoding(data); detected != "" {
			actualEncoding = detected
		}
	}

	var jsonStr string
	switch actualEncoding {
	case "utf-8":
		if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
			data = data[3:]
		}
		jsonStr = string(data)

	case "utf-16":
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		decoded, _, err := transform.Bytes(decoder, data)
		if err != nil {
			return nil, fmt.Errorf("bytes_to_json: UTF-16 decoding failed: %w", err)
		}
		jsonStr = string(decoded)

	case "latin1":
		runes := make([]rune, len(data))
		for i, b := range data {
			runes[i] = rune(b)
		}
		jsonStr = string(runes)

	default:
		return nil, fmt.Errorf("bytes_to_json: unsupported encoding: %s", actualEncoding)
	}

	var result any
	decoder := json.NewDecoder(strings.NewReader(jsonStr))
	decoder.UseNumber()

	if err := decoder.Decode(&result); err != nil {
		if validateJSON {
			return nil, fmt.Errorf("bytes_to_json: JSON parsing failed: %w", err)
		}
		result = nil
	}

	return map[string]any{
		"success":       true,
		"result":        result,
		"encoding_used": actualEncoding,
		"byte_size":     originalSize,
		"duration_ms":   time.Since(startTime).Milliseconds(),
	}, nil
}

// Validate validates the bytes-to-JSON executor configuration.
func (e *BytesToJsonExecutor) Validate(config map[string]any) error {
	encoding := e.GetStringDefault(config, "encoding", "utf-8")
	validEncodings := map[string]bool{
		"utf-8":  true,
		"utf-16": true,
		"latin1": true,
	}
	if !validEncodings[encoding] {
		return fmt.Errorf("invalid encoding: %s (must be: utf-8, utf-16, latin1)", encoding)
	}

	return nil
}

func (e *BytesToJsonExecutor) extractBytes(input any) ([]byte, error) {
	switch v := input.(type) {
	case []byte:
		return v, nil
	case string:
		if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
			if len(v) > 0 && len(v)%4 == 0 {
				return decoded, nil
			}
		}
		return []byte(v), nil
	case map[string]any:
		if data, ok := v["data"]; ok {
			return e.extractBytes(data)
		}
		return nil, fmt.Errorf("expected 'data' field in input map")
	default:
		return nil, fmt.Errorf("unsupported input type: %T (expected []byte, string, or map)", input)
	}
}

func (e *BytesToJsonExecutor) detectEncoding(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return "utf-8"
	}

	if len(data) >= 2 {
		if data[0] == 0xFF && data[1] == 0xFE {
			return "utf-16"
		}
		if data[0] == 0xFE && data[1] == 0xFF {
			return "utf-16"
		}
	}

	if utf8.Valid(data) {
		return "utf-8"
	}

	return ""
}
