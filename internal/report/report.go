// Package report renders extracted taggings as a CSV table.
//
// Every field, header included, is wrapped in double quotes, which
// encoding/csv cannot be told to do, so records are written here directly.
package report

import (
	"bufio"
	"bytes"
	"io"
	"runtime"
	"strings"

	"tagquery/internal/extract"
)

// Header is the fixed column order of the table.
var Header = []string{"Source", "Node", "Text", "Fragment"}

// Newline is the host platform's line terminator.
var Newline = platformNewline(runtime.GOOS)

func platformNewline(goos string) string {
	if goos == "windows" {
		return "\r\n"
	}
	return "\n"
}

// Options controls rendering.
type Options struct {
	// Comments is emitted before the header, one '#'-prefixed line per line.
	// Empty means no comment block.
	Comments string
	// Newline overrides the record terminator. Defaults to Newline.
	Newline string
}

// Render writes the header and one record per row.
func Render(w io.Writer, rows []extract.Row, opts Options) error {
	nl := opts.Newline
	if nl == "" {
		nl = Newline
	}

	bw := bufio.NewWriter(w)
	if opts.Comments != "" {
		for _, line := range CommentLines(opts.Comments) {
			bw.WriteString(line)
			bw.WriteString(nl)
		}
	}

	writeRecord(bw, Header, nl)
	for _, r := range rows {
		writeRecord(bw, []string{r.Source, r.Node, r.Text, r.Fragment}, nl)
	}
	return bw.Flush()
}

// Bytes renders into memory so callers can write the table in one go.
func Bytes(rows []extract.Row, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, rows, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CommentLines splits a comment block into lines, each starting with '#'.
// Line endings inside the block are normalised away.
func CommentLines(block string) []string {
	block = strings.ReplaceAll(block, "\r\n", "\n")
	block = strings.TrimRight(block, "\n")
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "#") {
			lines[i] = "# " + line
		}
	}
	return lines
}

func writeRecord(w *bufio.Writer, fields []string, nl string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteString(Quote(f))
	}
	w.WriteString(nl)
}

// Quote wraps a field in double quotes, doubling any quotes inside it.
func Quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
