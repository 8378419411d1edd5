package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelfx/internal/effect"
	"github.com/dunamismax/pixelfx/internal/pixel"
)

const DefaultExportPrefix = "ai-enhanced"

// ExportFilename names a downloadable result:
// <prefix>-<effect>-<unix millis>.<ext>.
func ExportFilename(prefix string, kind effect.Kind, format string, at time.Time) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultExportPrefix
	}
	return fmt.Sprintf("%s-%s-%d.%s", PathToken(prefix), kind, at.UnixMilli(), pixel.Extension(format))
}

// PathToken maps in to a safe single path element: ASCII letters, digits,
// '-' and '_' are kept and everything else becomes '_'.
func PathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
