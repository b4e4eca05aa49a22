package outreach

import (
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/opsctl/internal/store"
)

var placeholder = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// RenderTemplate fills {{first_name}}, {{last_name}}, {{full_name}} and
// {{company}}. Unknown placeholders are left untouched.
func RenderTemplate(tpl string, p store.Prospect) string {
	values := map[string]string{
		"first_name": strings.TrimSpace(p.FirstName),
		"last_name":  strings.TrimSpace(p.LastName),
		"full_name":  p.FullName(),
		"company":    strings.TrimSpace(p.Company),
	}
	out := placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
	return strings.TrimSpace(out)
}
