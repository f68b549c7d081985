// ABOUTME: Parsing of streamed workflow step events.
// ABOUTME: Assistant-text extraction is a best-effort structural heuristic, not a contract.

package cortex

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

const dataPrefix = "data: "

// maxEventSize bounds a single step-event line.
const maxEventSize = 1 << 20

// ScanStream reads newline-delimited step events from a workflow run
// stream, invoking fn for each decoded event. Lines without the "data:"
// prefix and lines that fail to decode are skipped.
func ScanStream(r io.Reader, fn func(event map[string]any)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(line[len(dataPrefix):]), &event); err != nil {
			continue
		}
		fn(event)
	}
	return scanner.Err()
}

// AssistantText extracts the assistant message carried by a step event.
// The shape is inferred from observed streams (output.MODEL.output.message)
// rather than a documented schema; events that do not match report false.
func AssistantText(event map[string]any) (string, bool) {
	output, ok := event["output"].(map[string]any)
	if !ok {
		return "", false
	}
	model, ok := output["MODEL"].(map[string]any)
	if !ok {
		return "", false
	}
	inner, ok := model["output"].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := inner["message"].(string)
	if !ok || message == "" {
		return "", false
	}
	return message, true
}
