// Package answer drives the language-model passes that turn ranked evidence
// into a cited answer, either directly or through a specialist agent panel.
package answer

import (
	"fmt"
	"strings"

	"github.com/zyvault/zyvault/internal/retrieval"
)

// BuildContext renders evidence into numbered blocks the prompts reference
// by bracketed index.
func BuildContext(evidence []retrieval.Evidence) string {
	var b strings.Builder
	for _, e := range evidence {
		fmt.Fprintf(&b, "[%d] %s (%s; p.%d)\n%s\n\n",
			e.Citation, e.Title, e.DocCreatedAt.Format("2006-01-02"), e.Page, e.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
