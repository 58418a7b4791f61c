package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/mattn/go-isatty"
)

var promptTemplates = &promptui.PromptTemplates{
	Prompt:  "{{ . }}: ",
	Valid:   "{{ . | green }}: ",
	Invalid: "{{ . | red }}: ",
	Success: "{{ . | bold }}: ",
}

func terminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ask reads one trimmed answer. Terminals get a line editor, masked for
// secrets; piped input is read a line at a time.
func (a *app) ask(label string, secret bool) (string, error) {
	if a.tty {
		p := promptui.Prompt{Label: label, Templates: promptTemplates}
		if secret {
			p.Mask = '*'
		}
		s, err := p.Run()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}

	fmt.Fprint(a.out, label+": ")
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// confirm asks a yes/no question. Anything but yes is no.
func (a *app) confirm(label string) bool {
	if a.tty {
		p := promptui.Prompt{Label: label, IsConfirm: true}
		_, err := p.Run()
		return err == nil
	}

	answer, err := a.ask(label+" [y/N]", false)
	if err != nil {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}
