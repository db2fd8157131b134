package protocol

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/andrej220/devbackup/internal/expect"
	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/transport"
	"github.com/andrej220/devbackup/internal/variables"
	"github.com/andrej220/devbackup/pkg/models"
)

// CLIDriver runs a job batch over an interactive Telnet or SSH terminal.
type CLIDriver struct {
	family  models.Protocol
	profile Profile
	params  Params
	creds   SessionCredentials

	timeout   time.Duration
	sendDelay time.Duration
	dial      expect.Dialer
}

type CLIOption func(*CLIDriver)

// WithDialer replaces the network transport, e.g. with a simulated device.
func WithDialer(d expect.Dialer) CLIOption {
	return func(c *CLIDriver) { c.dial = d }
}

// NewCLIDriver checks the protocol settings and credentials up front so a
// misconfigured device fails before any connection is attempted.
func NewCLIDriver(family models.Protocol, profile Profile, p Params, opts ...CLIOption) (*CLIDriver, error) {
	c := &CLIDriver{family: family, profile: profile, params: p}
	switch family {
	case models.ProtocolTelnet:
		if err := p.Settings.ValidateTelnet(); err != nil {
			return nil, err
		}
		c.timeout, c.sendDelay = p.Settings.TelnetTimeout, p.Settings.TelnetBeforeSendDelay
	case models.ProtocolSSH:
		if err := p.Settings.ValidateSSH(); err != nil {
			return nil, err
		}
		c.timeout, c.sendDelay = p.Settings.SSHTimeout, p.Settings.SSHBeforeSendDelay
	default:
		return nil, fmt.Errorf("%w: %q is not a CLI protocol", models.ErrValidation, family)
	}
	creds, err := profile.Resolve(family, p.Credentials)
	if err != nil {
		return nil, err
	}
	creds.Login = profile.Login(creds.Login)
	c.creds = creds

	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = c.networkDialer()
	}
	return c, nil
}

func (c *CLIDriver) networkDialer() expect.Dialer {
	addr := net.JoinHostPort(c.params.Coords.NodeIP, strconv.Itoa(c.creds.Port))
	if c.family == models.ProtocolSSH {
		cfg := transport.SSHConfig{Addr: addr, User: c.creds.Login, Password: c.creds.Password, Timeout: c.timeout}
		return func(ctx context.Context) (io.ReadWriteCloser, error) { return transport.DialSSH(ctx, cfg) }
	}
	cfg := transport.TelnetConfig{Addr: addr, Timeout: c.timeout, Mode: c.profile.TelnetMode()}
	return func(ctx context.Context) (io.ReadWriteCloser, error) { return transport.DialTelnet(ctx, cfg) }
}

func (c *CLIDriver) Execute(ctx context.Context) (models.ProtocolResult, error) {
	result := models.NewProtocolResult()
	log := c.params.logger()
	task := c.params.Coords.TaskName

	mode := expect.InBand
	if c.family == models.ProtocolSSH {
		mode = expect.OutOfBand
	}
	steps, promptChar, err := expect.ParseAuthSequence(c.creds.AuthSequence, expect.AuthSecrets{
		Login:          c.creds.Login,
		Password:       c.creds.Password,
		EnablePassword: c.creds.EnablePassword,
	}, mode)
	if err != nil {
		return result, err
	}

	store := c.params.Vars
	if store == nil {
		store = variables.NewStore()
	}
	enter := c.profile.Enter()
	session := expect.NewSession(expect.Config{
		Enter:     enter,
		Timeout:   c.timeout,
		SendDelay: c.sendDelay,
		Sequences: variables.DefaultControlSequences(enter),
		Convert: func(field, variable, value string) models.Variable {
			return c.profile.Convert(task, field, variable, value)
		},
		Logger: log,
	}, store)
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Debug("session teardown", lg.String("protocol", string(c.family)), lg.Err(cerr))
		}
	}()

	if err := session.Connect(ctx, c.dial); err != nil {
		return result, err
	}
	if err := session.Authenticate(ctx, steps); err != nil {
		return result, err
	}
	prompt, err := session.DetectPrompt(ctx, promptChar)
	if err != nil {
		return result, err
	}
	log.Debug("prompt detected", lg.String("prompt", prompt))

	if err := session.Run(ctx, task, c.params.Jobs, &result); err != nil {
		return result, err
	}
	result.Success = true
	return result, nil
}
