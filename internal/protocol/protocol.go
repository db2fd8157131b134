// Package protocol holds the generic SNMP and CLI drivers. Vendor behaviour
// reaches them only through the capability interfaces in Profile.
package protocol

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/transport"
	"github.com/andrej220/devbackup/internal/variables"
	"github.com/andrej220/devbackup/pkg/models"
)

// Driver runs one device's job batch.
type Driver interface {
	Execute(ctx context.Context) (models.ProtocolResult, error)
}

// Authenticator covers how a device family logs in on the terminal.
type Authenticator interface {
	// Enter is the line terminator appended to every payload.
	Enter() string
	// Login adjusts the configured login name before it is sent.
	Login(login string) string
	TelnetMode() transport.TelnetMode
}

// CredentialResolver picks and checks the credential fields a protocol needs.
type CredentialResolver interface {
	Resolve(family models.Protocol, c models.Credentials) (SessionCredentials, error)
}

// VariableConverter post-processes a captured value.
type VariableConverter interface {
	Convert(task, field, variable, value string) models.Variable
}

// Profile is the capability set a vendor injects into a generic driver.
type Profile struct {
	Authenticator
	CredentialResolver
	VariableConverter
}

// SessionCredentials are the resolved values for one protocol session.
type SessionCredentials struct {
	Login          string
	Password       string
	EnablePassword string
	Port           int
	AuthSequence   string

	ReadCommunity  string
	WriteCommunity string
	SNMPVersion    string
}

// Params is everything a driver needs for one device run.
type Params struct {
	Coords      models.Coordinates
	Settings    models.Settings
	Credentials models.Credentials
	Jobs        []models.Job
	Vars        *variables.Store
	Logger      lg.Logger
}

func (p Params) logger() lg.Logger {
	if p.Logger == nil {
		return lg.Discard
	}
	return p.Logger
}

// Terminal is the default Authenticator.
type Terminal struct {
	LineEnding  string
	LoginSuffix string
	Mode        transport.TelnetMode
}

func (t Terminal) Enter() string {
	if t.LineEnding == "" {
		return "\n"
	}
	return t.LineEnding
}

func (t Terminal) Login(login string) string        { return login + t.LoginSuffix }
func (t Terminal) TelnetMode() transport.TelnetMode { return t.Mode }

// StandardCredentials resolves the backend credential bundle the way every
// known vendor stores it.
type StandardCredentials struct{}

func (StandardCredentials) Resolve(family models.Protocol, c models.Credentials) (SessionCredentials, error) {
	switch family {
	case models.ProtocolTelnet:
		return cliCredentials("telnet", c.TelnetLogin, c.TelnetPassword, c.EnablePassword, c.TelnetPort, c.AuthSequence)
	case models.ProtocolSSH:
		return cliCredentials("SSH", c.SSHLogin, c.SSHPassword, c.EnablePassword, c.SSHPort, c.AuthSequence)
	case models.ProtocolSNMP:
		sc := SessionCredentials{
			ReadCommunity:  c.SNMPRead,
			WriteCommunity: c.SNMPSet,
			SNMPVersion:    strings.TrimSpace(c.SNMPVersion),
			Port:           c.SNMPPort,
		}
		switch {
		case sc.ReadCommunity == "":
			return sc, fmt.Errorf("%w: SNMP read community is not set", models.ErrValidation)
		case sc.SNMPVersion == "":
			return sc, fmt.Errorf("%w: SNMP version is not set", models.ErrValidation)
		case sc.Port == 0:
			return sc, fmt.Errorf("%w: SNMP port is not set", models.ErrValidation)
		}
		return sc, nil
	default:
		return SessionCredentials{}, fmt.Errorf("%w: unknown protocol %q", models.ErrValidation, family)
	}
}

func cliCredentials(name, login, password, enable string, port int, seq string) (SessionCredentials, error) {
	sc := SessionCredentials{Login: login, Password: password, EnablePassword: enable, Port: port, AuthSequence: seq}
	switch {
	case login == "":
		return sc, fmt.Errorf("%w: %s login is not set", models.ErrValidation, name)
	case port == 0:
		return sc, fmt.Errorf("%w: %s port is not set", models.ErrValidation, name)
	case strings.TrimSpace(seq) == "":
		return sc, fmt.Errorf("%w: model auth sequence is not set", models.ErrValidation)
	}
	return sc, nil
}
