package diff

import (
	"fmt"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Render serializes a DiffDocument back to unified-diff text, with hunk
// headers, the inverse of Parse for well-formed documents. Used by the
// prompt builder to hand the model the same hunk-annotated text a
// reviewer would see.
func Render(doc domain.DiffDocument) string {
	var b strings.Builder
	for _, f := range doc.Files {
		oldPath := f.OldPath
		if oldPath == "" {
			oldPath = "/dev/null"
		} else {
			oldPath = "a/" + oldPath
		}
		newPath := f.NewPath
		if newPath == "" {
			newPath = "/dev/null"
		} else {
			newPath = "b/" + newPath
		}
		fmt.Fprintf(&b, "--- %s\n", oldPath)
		fmt.Fprintf(&b, "+++ %s\n", newPath)
		if f.IsBinary {
			b.WriteString("Binary files differ\n")
			continue
		}
		for _, h := range f.Hunks {
			fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
			for _, line := range h.Lines {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
