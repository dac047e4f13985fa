// Package console 交互探索用的行输入与带颜色的输出
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/pkg/errors"
)

const Prompt = ">>> "

// LineReader returns one line per call and io.EOF when the input is exhausted.
type LineReader interface {
	ReadLine() (string, error)
}

// Readline 终端输入，带历史记录
type Readline struct {
	rl *readline.Instance
}

func NewReadline(historyFile string) (*Readline, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          color.New(color.Bold, color.FgGreen).Sprint(Prompt),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, errors.Wrap(err, "readline.NewEx")
	}
	return &Readline{rl: rl}, nil
}

func (r *Readline) ReadLine() (string, error) {
	for {
		line, err := r.rl.Readline()
		if err == readline.ErrInterrupt {
			// Ctrl-C 只丢弃当前行
			continue
		}
		if err != nil {
			return "", err
		}
		return line, nil
	}
}

func (r *Readline) Stdout() io.Writer { return r.rl.Stdout() }

func (r *Readline) Close() error { return r.rl.Close() }

// Lines reads a scripted session, one command per line. Blank lines and lines starting
// with # are skipped.
type Lines struct {
	scanner *bufio.Scanner
}

func NewLines(r io.Reader) *Lines {
	return &Lines{scanner: bufio.NewScanner(r)}
}

func (l *Lines) ReadLine() (string, error) {
	for l.scanner.Scan() {
		line := strings.TrimSpace(l.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	if err := l.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

var (
	info    = color.New(color.FgCyan).SprintFunc()
	success = color.New(color.FgGreen).SprintFunc()
	failure = color.New(color.Bold, color.FgRed).SprintFunc()
)

// Printer 与用户交互的输出；前缀区分消息类别
type Printer struct {
	Out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{Out: out}
}

func (p *Printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(p.Out, "%s %s\n", info("[*]"), fmt.Sprintf(format, args...))
}

func (p *Printer) Success(format string, args ...interface{}) {
	fmt.Fprintf(p.Out, "%s %s\n", success("[$]"), fmt.Sprintf(format, args...))
}

func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintf(p.Out, "%s %s\n", failure("[!]"), fmt.Sprintf(format, args...))
}

// Raw writes text as is.
func (p *Printer) Raw(text string) {
	fmt.Fprint(p.Out, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(p.Out)
	}
}
