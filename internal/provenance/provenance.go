// Package provenance builds the '#'-prefixed comment block that records how
// a report was produced.
package provenance

import (
	"strings"
)

// Width of the title line.
const Width = 80

// Arg is one option worth recording. Flag options are listed by name only
// when set; value options only when non-empty.
type Arg struct {
	Name  string
	Value string
	Flag  bool
}

// Block returns the comment block: a '#'-padded title naming the output,
// the program name, then one line per supplied option in the given order.
// Lines end in "\n".
func Block(program, output string, args []Arg) string {
	var b strings.Builder

	title := ""
	if output != "" {
		title = " " + escape(output) + " "
	}
	b.WriteString(Center(title, Width, '#'))
	b.WriteString("\n")
	b.WriteString("# " + program + "\n")

	for _, a := range args {
		switch {
		case a.Flag:
			b.WriteString("#     --" + a.Name + "\n")
		case a.Value != "":
			b.WriteString("#     --" + a.Name + `="` + escape(a.Value) + `"` + "\n")
		}
	}
	return b.String()
}

// lineBreaks would end a comment line early, so they are written as escapes.
var lineBreaks = strings.NewReplacer("\r", `\r`, "\n", `\n`)

func escape(s string) string {
	return lineBreaks.Replace(s)
}

// Center pads s with fill to width characters. When the padding is odd the
// extra character goes on the right, except for odd widths where it goes on
// the left.
func Center(s string, width int, fill rune) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	marg := width - n
	left := marg/2 + (marg & width & 1)
	right := marg - left
	pad := string(fill)
	return strings.Repeat(pad, left) + s + strings.Repeat(pad, right)
}
