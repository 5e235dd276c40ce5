package diff

import "github.com/codewatch-dev/codewatch/internal/domain"

// FindPosition returns the diff position (1-indexed from the file's first
// @@ hunk header, counting every line in every hunk of that file) for a
// given new-side line number. Returns nil when the line isn't part of the
// diff: unchanged code outside any hunk, a deleted line, or a line outside
// the file entirely.
func FindPosition(mod domain.FileModification, newLineNumber int) *int {
	if newLineNumber <= 0 {
		return nil
	}

	position := 0
	for _, hunk := range mod.Hunks {
		newLine := hunk.NewStart
		for _, line := range hunk.Lines {
			position++
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '+':
				if newLine == newLineNumber {
					p := position
					return &p
				}
				newLine++
			case ' ':
				if newLine == newLineNumber {
					p := position
					return &p
				}
				newLine++
			case '-', '\\':
				// no new-side line number
			}
		}
	}
	return nil
}
