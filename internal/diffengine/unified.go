package diffengine

import (
	"bytes"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const hunkContext = 3

type lineOp int

const (
	opContext lineOp = iota
	opAdd
	opDel
)

type lineEdit struct {
	op lineOp
	// oldLine and newLine are 1-based; -1 means the line does not exist on
	// that side.
	oldLine int
	newLine int
	text    string
}

// unifiedDiff renders a git-style unified diff for one file and returns it
// together with added/removed line counts.
func unifiedDiff(path string, kind ChangeKind, oldContent, newContent string) (string, int, int) {
	edits := lineEdits(oldContent, newContent)
	if len(edits) == 0 {
		return "", 0, 0
	}

	added, removed := 0, 0
	for _, e := range edits {
		switch e.op {
		case opAdd:
			added++
		case opDel:
			removed++
		}
	}

	fd := &godiff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
		Hunks:    groupHunks(edits),
	}
	switch kind {
	case Added:
		fd.OrigName = "/dev/null"
	case Removed:
		fd.NewName = "/dev/null"
	}

	out, err := godiff.PrintFileDiff(fd)
	if err != nil {
		// Printing a hunk list built here cannot fail; fall back to the
		// bare counts if it somehow does.
		return "", added, removed
	}
	return string(out), added, removed
}

// lineEdits computes a line-level edit script. The character reduction keeps
// diffmatchpatch on line boundaries so the result maps cleanly onto unified
// hunks.
func lineEdits(oldContent, newContent string) []lineEdit {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var edits []lineEdit
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				edits = append(edits, lineEdit{op: opContext, oldLine: oldLine, newLine: newLine, text: text})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				edits = append(edits, lineEdit{op: opDel, oldLine: oldLine, newLine: -1, text: text})
				oldLine++
			case diffmatchpatch.DiffInsert:
				edits = append(edits, lineEdit{op: opAdd, oldLine: -1, newLine: newLine, text: text})
				newLine++
			}
		}
	}
	return edits
}

// splitLines splits content on newlines, dropping the empty remainder after
// a trailing newline. Empty input yields no lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// groupHunks clusters edits into hunks carrying up to hunkContext context
// lines on each side. Changes whose gap fits within twice the context are
// merged into one hunk.
func groupHunks(edits []lineEdit) []*godiff.Hunk {
	type span struct{ start, end int }

	var spans []span
	for i, e := range edits {
		if e.op == opContext {
			continue
		}
		start := i - hunkContext
		if start < 0 {
			start = 0
		}
		end := i + hunkContext + 1
		if end > len(edits) {
			end = len(edits)
		}
		if n := len(spans); n > 0 && start <= spans[n-1].end {
			spans[n-1].end = end
		} else {
			spans = append(spans, span{start, end})
		}
	}

	var hunks []*godiff.Hunk
	for _, sp := range spans {
		hunks = append(hunks, buildHunk(edits[sp.start:sp.end]))
	}
	return hunks
}

func buildHunk(edits []lineEdit) *godiff.Hunk {
	h := &godiff.Hunk{}
	var body bytes.Buffer

	for _, e := range edits {
		switch e.op {
		case opContext:
			if h.OrigLines == 0 && h.OrigStartLine == 0 {
				h.OrigStartLine = int32(e.oldLine)
			}
			if h.NewLines == 0 && h.NewStartLine == 0 {
				h.NewStartLine = int32(e.newLine)
			}
			h.OrigLines++
			h.NewLines++
			body.WriteByte(' ')
		case opDel:
			if h.OrigLines == 0 && h.OrigStartLine == 0 {
				h.OrigStartLine = int32(e.oldLine)
			}
			h.OrigLines++
			body.WriteByte('-')
		case opAdd:
			if h.NewLines == 0 && h.NewStartLine == 0 {
				h.NewStartLine = int32(e.newLine)
			}
			h.NewLines++
			body.WriteByte('+')
		}
		body.WriteString(e.text)
		body.WriteByte('\n')
	}

	// A side with no lines at all renders as start 0 per unified convention.
	h.Body = body.Bytes()
	return h
}
