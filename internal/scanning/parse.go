package scanning

import "strings"

// cleanModelText trims a model answer and unwraps it when the whole answer
// was put inside a markdown code block
func cleanModelText(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	// Drop the opening fence together with its language tag (```markdown)
	nl := strings.Index(text, "\n")
	if nl == -1 {
		return strings.TrimSpace(strings.Trim(text, "`"))
	}
	body := text[nl+1:]

	if idx := strings.LastIndex(body, "```"); idx != -1 && strings.TrimSpace(body[idx+3:]) == "" {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
