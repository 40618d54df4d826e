// Package console drives an end user from a line-oriented terminal.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Device is a line terminal: it prompts and reads one line, and prints lines.
type Device interface {
	ReadLine(prompt string) (string, error)
	Println(line string)
}

type textDevice struct {
	in     *bufio.Scanner
	prefix string

	mu  sync.Mutex
	out io.Writer
}

// NewDevice returns a Device reading lines from r and writing to w. Every output line is
// prefixed with name, highlighted when w is a color terminal.
func NewDevice(r io.Reader, w io.Writer, name string) Device {
	return &textDevice{
		in:     bufio.NewScanner(r),
		out:    w,
		prefix: color.New(color.FgCyan, color.Bold).Sprintf("[%s]", name),
	}
}

// ReadLine prints prompt and returns the next input line without its line ending.
// It returns io.EOF once input is exhausted.
func (d *textDevice) ReadLine(prompt string) (string, error) {
	d.mu.Lock()
	fmt.Fprintf(d.out, "%s %s", d.prefix, prompt)
	d.mu.Unlock()

	if !d.in.Scan() {
		if err := d.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(d.in.Text(), "\r"), nil
}

func (d *textDevice) Println(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "%s %s\n", d.prefix, line)
}
