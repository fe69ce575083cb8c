// internal/service/template_service.go
package service

import (
	"fmt"
	"strings"
)

// RenderTemplate substitutes {placeholder} merge fields. Empty values
// render as <unknown> so a half-filled contact row never produces a
// message with a dangling placeholder.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		if v == "" {
			v = "<unknown>"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// TextRenderer produces the final outbound text for a message right before
// the provider call (tracking/opt-out links are appended here, not stored).
type TextRenderer interface {
	Finalize(renderedContent string, messageID int) string
}

// OptOutRenderer appends the per-message opt-out link.
type OptOutRenderer struct {
	BaseURL string
}

func (r *OptOutRenderer) Finalize(renderedContent string, messageID int) string {
	return fmt.Sprintf("%s\nReply STOP or visit %s/%d to opt out.", renderedContent, r.BaseURL, messageID)
}

var _ TextRenderer = (*OptOutRenderer)(nil)
