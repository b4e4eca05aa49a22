// Package report renders human-readable command results on stdout.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Printer writes colored status lines and simple tables.
type Printer struct {
	w    io.Writer
	head *color.Color
	ok   *color.Color
	warn *color.Color
	fail *color.Color
	dim  *color.Color
}

// New returns a Printer writing to w. Colors are disabled when noColor is
// set or the color package detected a non-terminal.
func New(w io.Writer, noColor bool) *Printer {
	p := &Printer{
		w:    w,
		head: color.New(color.Bold, color.FgCyan),
		ok:   color.New(color.FgGreen),
		warn: color.New(color.FgYellow),
		fail: color.New(color.FgRed, color.Bold),
		dim:  color.New(color.Faint),
	}
	if noColor || color.NoColor {
		for _, c := range []*color.Color{p.head, p.ok, p.warn, p.fail, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) Header(format string, args ...any) {
	p.head.Fprintf(p.w, "== "+format+"\n", args...)
}

func (p *Printer) OK(format string, args ...any) {
	p.ok.Fprint(p.w, "[ok]   ")
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) Warn(format string, args ...any) {
	p.warn.Fprint(p.w, "[warn] ")
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) Fail(format string, args ...any) {
	p.fail.Fprint(p.w, "[fail] ")
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.w, "       "+format+"\n", args...)
}

// Hint prints a dimmed remediation line.
func (p *Printer) Hint(format string, args ...any) {
	p.dim.Fprintf(p.w, "       hint: "+format+"\n", args...)
}

// Table prints rows aligned under headers.
func (p *Printer) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	sep := make([]string, len(headers))
	for i, h := range headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(sep, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}
