package dom

import (
	"strings"

	"github.com/entrhq/pilot/pkg/errs"
)

// maxSelectorLength bounds selector input; anything longer is almost
// certainly a payload, not a selector.
const maxSelectorLength = 1024

// Substrings that mark a selector as an injection attempt rather than a
// lookup. Checked case-insensitively.
var unsafeFragments = []string{
	"<script",
	"javascript:",
	"data:text/html",
	"expression(",
}

// validateSelector enforces the input contract before a selector reaches the
// cache or the wire. Malformed input fails validation; injection-looking
// input fails the security gate. Neither is ever retried.
func validateSelector(selector string) error {
	if selector == "" {
		return errs.Validation("selector is empty", nil)
	}
	if len(selector) > maxSelectorLength {
		return errs.Validation("selector exceeds maximum length", map[string]any{
			"length": len(selector),
			"max":    maxSelectorLength,
		})
	}
	if strings.ContainsRune(selector, '\x00') {
		return errs.Security("selector contains control characters", nil)
	}

	lowered := strings.ToLower(selector)
	for _, fragment := range unsafeFragments {
		if strings.Contains(lowered, fragment) {
			return errs.Security("selector contains unsafe content", map[string]any{
				"fragment": fragment,
			})
		}
	}
	return nil
}
