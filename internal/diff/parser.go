// Package diff parses unified diffs (as returned by the SCM ports) into the
// domain's DiffDocument/FileModification/DiffHunk model.
package diff

import (
	"strconv"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Parse parses a unified diff into a domain.DiffDocument. The state machine
// follows the parser rules exactly:
//
//   - "--- a/<path>" starts a new file record with oldPath.
//   - "+++ b/<path>" sets newPath and appends the file to the document.
//   - "@@ -l[,c] +l[,c] @@" begins a hunk; missing c defaults to 1.
//   - Lines starting with '+', '-', ' ', or '\' belong to the current hunk.
//
// "diff --git", "index", "new file mode", "deleted file mode", and "rename
// from/to" lines are recognized to classify file status; everything else
// outside of a hunk is ignored.
func Parse(raw string) (domain.DiffDocument, error) {
	doc := domain.DiffDocument{}
	if raw == "" {
		return doc, nil
	}

	lines := strings.Split(raw, "\n")

	fileIdx := -1 // index into doc.Files of the file record currently being built, or -1
	var currentHunk *domain.DiffHunk
	var forcedStatus domain.FileStatus
	var pendingOldPath string

	flushHunk := func() {
		if fileIdx >= 0 && currentHunk != nil {
			doc.Files[fileIdx].Hunks = append(doc.Files[fileIdx].Hunks, *currentHunk)
			currentHunk = nil
		}
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushHunk()
			fileIdx = -1
			pendingOldPath = ""
			forcedStatus = ""
			continue

		case strings.HasPrefix(line, "new file mode"):
			forcedStatus = domain.FileStatusAdded
			continue

		case strings.HasPrefix(line, "deleted file mode"):
			forcedStatus = domain.FileStatusDeleted
			continue

		case strings.HasPrefix(line, "rename from "), strings.HasPrefix(line, "rename to "):
			forcedStatus = domain.FileStatusRenamed
			continue

		case strings.HasPrefix(line, "index "):
			continue

		case strings.HasPrefix(line, "Binary files ") && strings.HasSuffix(line, "differ"):
			if fileIdx >= 0 {
				doc.Files[fileIdx].IsBinary = true
			}
			continue

		case strings.HasPrefix(line, "--- "):
			flushHunk()
			pendingOldPath = stripDiffPathPrefix(strings.TrimPrefix(line, "--- "))
			fileIdx = -1
			continue

		case strings.HasPrefix(line, "+++ "):
			newPath := stripDiffPathPrefix(strings.TrimPrefix(line, "+++ "))
			rec := domain.FileModification{OldPath: pendingOldPath, NewPath: newPath}
			rec.Status = resolveStatus(forcedStatus, rec.OldPath, rec.NewPath)
			doc.Files = append(doc.Files, rec)
			fileIdx = len(doc.Files) - 1
			pendingOldPath = ""
			continue

		case strings.HasPrefix(line, "@@"):
			flushHunk()
			hunk := parseHunkHeader(line)
			currentHunk = &hunk
			continue
		}

		if currentHunk == nil || line == "" {
			continue
		}

		switch line[0] {
		case '+', '-', ' ', '\\':
			currentHunk.Lines = append(currentHunk.Lines, line)
		default:
			// Unrecognized prefix inside a hunk; treat as context so line
			// counts stay meaningful.
			currentHunk.Lines = append(currentHunk.Lines, " "+line)
		}
	}

	flushHunk()

	return doc, nil
}

func resolveStatus(forced domain.FileStatus, oldPath, newPath string) domain.FileStatus {
	if forced != "" {
		return forced
	}
	switch {
	case oldPath == "/dev/null":
		return domain.FileStatusAdded
	case newPath == "/dev/null":
		return domain.FileStatusDeleted
	case oldPath != "" && newPath != "" && oldPath != newPath:
		return domain.FileStatusRenamed
	default:
		return domain.FileStatusModified
	}
}

// stripDiffPathPrefix strips the "a/" or "b/" prefix git emits, and the
// trailing tab git adds when the path contains whitespace.
func stripDiffPathPrefix(path string) string {
	if idx := strings.IndexByte(path, '\t'); idx >= 0 {
		path = path[:idx]
	}
	if path == "/dev/null" {
		return path
	}
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

// parseHunkHeader parses a hunk header line like "@@ -10,7 +10,8 @@ context".
// A missing count defaults to 1.
func parseHunkHeader(line string) domain.DiffHunk {
	hunk := domain.DiffHunk{}

	parts := strings.SplitN(line, "@@", 3)
	if len(parts) < 2 {
		return hunk
	}

	rangeInfo := strings.TrimSpace(parts[1])
	for _, field := range strings.Fields(rangeInfo) {
		switch {
		case strings.HasPrefix(field, "-"):
			hunk.OldStart, hunk.OldCount = parseRange(field[1:])
		case strings.HasPrefix(field, "+"):
			hunk.NewStart, hunk.NewCount = parseRange(field[1:])
		}
	}

	return hunk
}

// parseRange parses "start,count" or "start" (count defaults to 1).
func parseRange(s string) (start, count int) {
	if idx := strings.IndexByte(s, ','); idx >= 0 {
		start, _ = strconv.Atoi(s[:idx])
		count, _ = strconv.Atoi(s[idx+1:])
		return
	}
	start, _ = strconv.Atoi(s)
	count = 1
	return
}

// ParsePatchHunks parses the hunk-only "patch" text the GitHub and GitLab
// pull/merge request file-list APIs return per file (no "--- a/"/"+++ b/"
// header lines, just "@@" hunks and their body lines). It reuses the same
// hunk-header and body-line rules as Parse.
func ParsePatchHunks(patch string) []domain.DiffHunk {
	if patch == "" {
		return nil
	}

	var hunks []domain.DiffHunk
	var current *domain.DiffHunk

	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "@@") {
			if current != nil {
				hunks = append(hunks, *current)
			}
			hunk := parseHunkHeader(line)
			current = &hunk
			continue
		}
		if current == nil || line == "" {
			continue
		}
		switch line[0] {
		case '+', '-', ' ', '\\':
			current.Lines = append(current.Lines, line)
		default:
			current.Lines = append(current.Lines, " "+line)
		}
	}
	if current != nil {
		hunks = append(hunks, *current)
	}

	return hunks
}
