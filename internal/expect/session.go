package expect

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/variables"
	"github.com/andrej220/devbackup/pkg/models"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	PromptDetected
	Executing
	Done
	Failed
)

func (s State) String() string {
	return [...]string{"disconnected", "connecting", "authenticating", "prompt-detected", "executing", "done", "failed"}[s]
}

// ConvertFunc post-processes a captured value before it is stored.
type ConvertFunc func(field, variable, value string) models.Variable

// Config of one interactive session.
type Config struct {
	Enter     string
	Timeout   time.Duration
	SendDelay time.Duration
	Sequences variables.ControlSequences
	Convert   ConvertFunc
	Logger    lg.Logger
}

// Dialer opens the byte stream to the device.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Session is the interactive automaton for one device:
// disconnected, connecting, authenticating, prompt detected, executing, then
// done or failed.
type Session struct {
	cfg   Config
	store *variables.Store
	exp   *Expecter

	state  State
	step   int
	prompt string
}

// pair is one command of the batch, ready to be sent.
type pair struct {
	job         models.Job
	expect      *regexp.Regexp
	promptText  string
	stripPrompt bool
	timeout     time.Duration
}

func NewSession(cfg Config, store *variables.Store) *Session {
	if cfg.Logger == nil {
		cfg.Logger = lg.Discard
	}
	if cfg.Sequences == nil {
		cfg.Sequences = variables.DefaultControlSequences(cfg.Enter)
	}
	if cfg.Convert == nil {
		cfg.Convert = func(_, variable, value string) models.Variable { return models.Processed(variable, value) }
	}
	return &Session{cfg: cfg, store: store}
}

func (s *Session) State() State   { return s.state }
func (s *Session) Step() int      { return s.step }
func (s *Session) Prompt() string { return s.prompt }

func (s *Session) fail(err error) error {
	s.state = Failed
	return err
}

func (s *Session) Connect(ctx context.Context, dial Dialer) error {
	s.state = Connecting
	rw, err := dial(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("%w: can't establish connection: %v", models.ErrProtocol, err))
	}
	s.exp = NewExpecter(rw, s.cfg.Timeout)
	return nil
}

// Authenticate walks the auth steps. Every send waits the before-send delay
// first.
func (s *Session) Authenticate(ctx context.Context, steps []AuthStep) error {
	s.state = Authenticating
	for i, st := range steps {
		s.step = i
		if _, err := s.exp.Expect(ctx, Pattern(st.Expect)); err != nil {
			return s.fail(fmt.Errorf("auth step %d: response %q not received, check device auth sequence: %w", i+1, st.Expect, err))
		}
		if !st.HasSend {
			continue
		}
		if err := s.delay(ctx); err != nil {
			return s.fail(err)
		}
		if err := s.exp.Send(st.Send + s.cfg.Enter); err != nil {
			return s.fail(fmt.Errorf("auth step %d: %w", i+1, err))
		}
	}
	return nil
}

// DetectPrompt sends a bare line terminator and takes what comes back as the
// canonical prompt.
func (s *Session) DetectPrompt(ctx context.Context, promptChar string) (string, error) {
	s.exp.Clear()
	if err := s.delay(ctx); err != nil {
		return "", s.fail(err)
	}
	if err := s.exp.Send(s.cfg.Enter); err != nil {
		return "", s.fail(err)
	}
	buf, err := s.exp.Expect(ctx, Pattern(promptChar))
	if err != nil {
		return "", s.fail(fmt.Errorf("prompt detection: %w", err))
	}
	prompt := PromptFrom(buf, s.cfg.Enter)
	if prompt == "" {
		return "", s.fail(fmt.Errorf("%w: prompt is empty", models.ErrProtocol))
	}
	s.prompt = prompt
	s.state = PromptDetected
	return prompt, nil
}

// Run executes jobs in order and stores captures into result.Data and the
// variable store.
func (s *Session) Run(ctx context.Context, taskName string, jobs []models.Job, result *models.ProtocolResult) error {
	pairs := s.pairs(jobs, result)
	log := s.cfg.Logger

	s.state = Executing
	s.exp.Clear()
	for i, p := range pairs {
		s.step = i
		last := i == len(pairs)-1

		skip := false
		command := p.job.Command
		res := s.store.Inject(command, s.cfg.Sequences)
		switch res.Status {
		case variables.OK:
			command = res.Command
		case variables.Skip:
			skip = true
			log.Debug("job skipped by restricted variable", lg.String("task", taskName), lg.String("job", p.job.Key))
		default:
			return s.fail(fmt.Errorf("job %s: %w", p.job.Key, res.Err))
		}

		var captured string
		if !skip {
			noOutput := last && !p.job.SaveRequired() && !p.job.PutVarRequired()
			out, err := s.execute(ctx, p, command, res.CtrlSeqInjected, noOutput)
			if err != nil {
				return s.fail(fmt.Errorf("job %s, command %q: %w", p.job.Key, command, err))
			}
			captured = out
		}

		if !p.job.SaveRequired() && !p.job.PutVarRequired() {
			continue
		}
		converted := s.cfg.Convert(p.job.TableField, p.job.Variable, captured)
		if p.job.SaveRequired() {
			result.Data[p.job.TableField] = converted.Result
		}
		if p.job.PutVarRequired() {
			converted.Name = p.job.Variable
			s.store.Set(p.job.Variable, converted)
		}
	}
	s.state = Done
	return nil
}

func (s *Session) pairs(jobs []models.Job, result *models.ProtocolResult) []pair {
	pairs := make([]pair, 0, len(jobs))
	for _, j := range jobs {
		if j.PutVarRequired() {
			s.store.Declare(j.Variable)
		}
		if j.SaveRequired() {
			result.Data[j.TableField] = ""
		}
		p := pair{job: j, timeout: s.cfg.Timeout}
		if j.Timeout > 0 {
			p.timeout = j.Timeout
		}
		if j.CustomPrompt != "" {
			p.expect = Pattern(j.CustomPrompt)
			p.promptText = j.CustomPrompt
		} else {
			p.expect = Literal(s.prompt)
			p.promptText = s.prompt
			p.stripPrompt = true
		}
		pairs = append(pairs, p)
	}
	return pairs
}

func (s *Session) execute(ctx context.Context, p pair, command string, raw, noOutput bool) (string, error) {
	if err := s.delay(ctx); err != nil {
		return "", err
	}
	payload := command
	if !raw {
		payload += s.cfg.Enter
	}
	if err := s.exp.Send(payload); err != nil {
		return "", err
	}
	if noOutput {
		return "", nil
	}

	if p.timeout != s.cfg.Timeout {
		s.exp.SetTimeout(p.timeout)
		defer s.exp.SetTimeout(s.cfg.Timeout)
	}
	buf, err := s.exp.Expect(ctx, p.expect)
	if err != nil {
		return "", fmt.Errorf("response expect failed, check command timeouts: %w", err)
	}
	return CleanOutput(buf, command, p.promptText, p.stripPrompt), nil
}

func (s *Session) delay(ctx context.Context) error {
	if s.cfg.SendDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.SendDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the session down. The error is informational only.
func (s *Session) Close() error {
	if s.exp == nil {
		return nil
	}
	err := s.exp.Close()
	if s.state != Failed && s.state != Done {
		s.state = Disconnected
	}
	return err
}
