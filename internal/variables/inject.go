package variables

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/andrej220/devbackup/pkg/models"
)

type Status int

const (
	OK Status = iota
	Skip
	Error
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Skip:
		return "SKIP"
	default:
		return "ERROR"
	}
}

// Result of resolving one template.
type Result struct {
	Status          Status
	Command         string
	CtrlSeqInjected bool
	Err             error
}

// ControlSequences maps a sequence name to the bytes it stands for.
type ControlSequences map[string]string

// DefaultControlSequences returns the table for a protocol whose line
// terminator is enter.
func DefaultControlSequences(enter string) ControlSequences {
	return ControlSequences{
		"ENTER":  enter,
		"ESC":    "\x1b",
		"CTRL-C": "\x03",
		"CTRL-Z": "\x1a",
		"TAB":    "\t",
	}
}

var seqPattern = regexp.MustCompile(`%%SEQ\(([^)]*)\)%%`)

// Inject resolves template against the store. Control sequences take
// priority: when the template carries one, no variable is substituted.
func (s *Store) Inject(template string, seqs ControlSequences) Result {
	if seqPattern.MatchString(template) {
		return injectSequences(template, seqs)
	}
	if !strings.Contains(template, "%%") {
		return Result{Status: OK, Command: template}
	}

	command := template
	for _, name := range s.names() {
		if !strings.Contains(command, name) {
			continue
		}
		v := s.vars[name]
		if v == nil {
			return errorf("variable %s has no value yet", name)
		}
		switch v.Action {
		case models.ActionProcess:
			if v.Result == "" {
				return errorf("empty variable value returned for %s in command %q", name, template)
			}
			command = strings.ReplaceAll(command, name, v.Result)
		case models.ActionRestrict:
			switch v.Status {
			case models.StatusException:
				return errorf("variable conversion error. Variable: %s. Message: %s", name, v.Message)
			case models.StatusSuccess:
				return Result{Status: Skip}
			default:
				return errorf("unknown status of variable conversion. Variable: %s. Status: %s", name, v.Status)
			}
		default:
			return errorf("unknown action %q of variable %s", v.Action, name)
		}
	}
	return Result{Status: OK, Command: command}
}

func injectSequences(template string, seqs ControlSequences) Result {
	var missing string
	out := seqPattern.ReplaceAllStringFunc(template, func(m string) string {
		payload := seqPattern.FindStringSubmatch(m)[1]
		if len([]rune(payload)) == 1 {
			return payload
		}
		seq, ok := seqs[strings.ToUpper(payload)]
		if !ok {
			missing = payload
			return m
		}
		return seq
	})
	if missing != "" {
		return errorf("unknown control sequence %q", missing)
	}
	return Result{Status: OK, Command: out, CtrlSeqInjected: true}
}

func errorf(format string, args ...any) Result {
	return Result{Status: Error, Err: fmt.Errorf("%w: "+format, append([]any{models.ErrValidation}, args...)...)}
}
