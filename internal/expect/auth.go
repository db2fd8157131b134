package expect

import (
	"fmt"
	"strings"

	"github.com/andrej220/devbackup/pkg/models"
)

const (
	placeholderLogin    = "{{telnet_login}}"
	placeholderPassword = "{{telnet_password}}"
	placeholderEnable   = "{{enable_password}}"
)

// AuthMode tells the parser who supplies login and password.
type AuthMode int

const (
	// InBand: login and password are typed into the terminal (Telnet).
	InBand AuthMode = iota
	// OutOfBand: the transport already authenticated (SSH), so the
	// login and password steps are dropped.
	OutOfBand
)

// AuthStep waits for Expect, then types Send. A step without Send only waits.
type AuthStep struct {
	Expect  string
	Send    string
	HasSend bool
}

// AuthSecrets are the values substituted into the auth sequence.
type AuthSecrets struct {
	Login          string
	Password       string
	EnablePassword string
}

// ParseAuthSequence splits a newline separated [expect, send, expect, send,
// ..., prompt] list. The count must be odd; the last entry is the prompt
// character used to confirm the login and becomes a final wait-only step.
func ParseAuthSequence(seq string, secrets AuthSecrets, mode AuthMode) ([]AuthStep, string, error) {
	if strings.TrimSpace(seq) == "" {
		return nil, "", fmt.Errorf("%w: model auth sequence is not set", models.ErrValidation)
	}
	parts := strings.Split(seq, "\n")
	for len(parts) > 0 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts)%2 != 1 {
		return nil, "", fmt.Errorf("%w: model auth sequence error. Wrong elements count (%d)", models.ErrParse, len(parts))
	}

	steps := make([]AuthStep, 0, len(parts)/2)
	for i := 0; i+1 < len(parts); i += 2 {
		expect := strings.TrimSpace(parts[i])
		send := strings.TrimSpace(parts[i+1])
		if strings.Contains(send, "{{") && strings.Contains(send, "}}") {
			switch send {
			case placeholderLogin:
				if mode == OutOfBand {
					continue
				}
				send = secrets.Login
			case placeholderPassword:
				if mode == OutOfBand {
					continue
				}
				send = secrets.Password
			case placeholderEnable:
				send = secrets.EnablePassword
			default:
				return nil, "", fmt.Errorf("%w: model auth sequence error. Unknown template variable %s", models.ErrParse, send)
			}
		}
		steps = append(steps, AuthStep{Expect: expect, Send: send, HasSend: true})
	}
	prompt := strings.TrimSpace(parts[len(parts)-1])
	steps = append(steps, AuthStep{Expect: prompt})
	return steps, prompt, nil
}
