package layout

import (
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// Writer streams markup and remembers the first write error.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Raw writes trusted markup verbatim.
func (hw *Writer) Raw(s string) {
	if hw.err != nil {
		return
	}
	_, hw.err = io.WriteString(hw.w, s)
}

// Text writes s HTML-escaped, suitable for element content and quoted attribute values.
func (hw *Writer) Text(s string) {
	hw.Raw(templ.EscapeString(s))
}

// Int writes an integer.
func (hw *Writer) Int(n int) {
	hw.Raw(strconv.Itoa(n))
}

// Attr writes ` name="value"` with the value escaped.
func (hw *Writer) Attr(name, value string) {
	hw.Raw(" " + name + `="`)
	hw.Text(value)
	hw.Raw(`"`)
}

// BoolAttr writes ` name` when on is true.
func (hw *Writer) BoolAttr(name string, on bool) {
	if on {
		hw.Raw(" " + name)
	}
}

// Err returns the first write error.
func (hw *Writer) Err() error {
	return hw.err
}
