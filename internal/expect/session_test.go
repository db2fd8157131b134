package expect

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/andrej220/devbackup/internal/variables"
	"github.com/andrej220/devbackup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice answers each received line with respond(line). The greeting is
// written before anything is read.
func fakeDevice(t *testing.T, greeting string, respond func(line string) string) Dialer {
	t.Helper()
	client, device := net.Pipe()
	t.Cleanup(func() { device.Close() })
	go func() {
		if _, err := io.WriteString(device, greeting); err != nil {
			return
		}
		r := bufio.NewReader(device)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if out := respond(strings.TrimRight(line, "\r\n")); out != "" {
				if _, err := io.WriteString(device, out); err != nil {
					return
				}
			}
		}
	}()
	return func(context.Context) (io.ReadWriteCloser, error) { return client, nil }
}

func router(line string) string {
	const prompt = "\r\nrouter>"
	switch line {
	case "admin":
		return "\r\nPassword: "
	case "secret":
		return prompt
	case "":
		return prompt
	case "show version":
		return "show version\r\n\x1b[1mVersion 1.0\x1b[0m" + prompt
	case "show hostname":
		return "show hostname\r\nedge1" + prompt
	case "show run edge1":
		return "show run edge1\r\nhostname edge1\r\ninterface ge1" + prompt
	case "show port 7":
		return "show port 7\r\nup" + prompt
	case "exit":
		return ""
	default:
		return line + "\r\n% Unknown command" + prompt
	}
}

func login(t *testing.T, s *Session, dial Dialer) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, dial))
	steps, promptChar, err := ParseAuthSequence("Username:\n{{telnet_login}}\nPassword:\n{{telnet_password}}\n>",
		AuthSecrets{Login: "admin", Password: "secret"}, InBand)
	require.NoError(t, err)
	require.NoError(t, s.Authenticate(ctx, steps))
	prompt, err := s.DetectPrompt(ctx, promptChar)
	require.NoError(t, err)
	assert.Equal(t, "router>", prompt)
	assert.Equal(t, PromptDetected, s.State())
}

func TestSessionRun(t *testing.T) {
	s := NewSession(Config{Enter: "\n", Timeout: 2 * time.Second, SendDelay: time.Millisecond}, variables.NewStore())
	defer s.Close()
	login(t, s, fakeDevice(t, "Username: ", router))

	jobs := []models.Job{
		{Key: "1", Command: "show version", TableField: "version"},
		{Key: "2", Command: "show hostname", Variable: "%%HOST%%"},
		{Key: "3", Command: "show run %%HOST%%", TableField: "config"},
		{Key: "4", Command: "%%SEQ(ENTER)%%"},
		{Key: "5", Command: "exit"},
	}
	result := models.NewProtocolResult()
	require.NoError(t, s.Run(context.Background(), "backup", jobs, &result))

	assert.Equal(t, Done, s.State())
	assert.Equal(t, map[string]string{
		"version": "Version 1.0",
		"config":  "hostname edge1\r\ninterface ge1",
	}, result.Data)
}

func TestSessionSkipsRestrictedJob(t *testing.T) {
	convert := func(field, variable, value string) models.Variable {
		if variable == "%%PORT%%" && value == "none" {
			return models.Variable{Action: models.ActionRestrict, Status: models.StatusSuccess, Result: "0"}
		}
		return models.Processed(variable, value)
	}
	respond := func(line string) string {
		if line == "show root" {
			return "show root\r\nnone\r\nrouter>"
		}
		return router(line)
	}
	s := NewSession(Config{Enter: "\n", Timeout: 2 * time.Second, Convert: convert}, variables.NewStore())
	defer s.Close()
	login(t, s, fakeDevice(t, "Username: ", respond))

	jobs := []models.Job{
		{Key: "1", Command: "show root", Variable: "%%PORT%%", TableField: "root_port"},
		{Key: "2", Command: "show port %%PORT%%", TableField: "port_state"},
		{Key: "3", Command: "show version", TableField: "version"},
	}
	result := models.NewProtocolResult()
	require.NoError(t, s.Run(context.Background(), "stp", jobs, &result))
	assert.Equal(t, "0", result.Data["root_port"])
	assert.Equal(t, "", result.Data["port_state"])
	assert.Equal(t, "Version 1.0", result.Data["version"])
}

func TestSessionCustomPromptKeepsOutput(t *testing.T) {
	respond := func(line string) string {
		if line == "copy run start" {
			return "copy run start\r\nDestination filename [startup-config]? "
		}
		return router(line)
	}
	s := NewSession(Config{Enter: "\n", Timeout: 2 * time.Second}, variables.NewStore())
	defer s.Close()
	login(t, s, fakeDevice(t, "Username: ", respond))

	jobs := []models.Job{
		{Key: "1", Command: "copy run start", CustomPrompt: `\[startup-config\]\?`, TableField: "question", Timeout: time.Second},
	}
	result := models.NewProtocolResult()
	require.NoError(t, s.Run(context.Background(), "save", jobs, &result))
	assert.Equal(t, "Destination filename [startup-config]?", result.Data["question"])
	assert.Equal(t, 2*time.Second, s.exp.Timeout())
}

func TestSessionAuthTimeout(t *testing.T) {
	s := NewSession(Config{Enter: "\n", Timeout: 50 * time.Millisecond}, variables.NewStore())
	defer s.Close()
	require.NoError(t, s.Connect(context.Background(), fakeDevice(t, "Login: ", router)))

	err := s.Authenticate(context.Background(), []AuthStep{{Expect: "Username:", Send: "admin", HasSend: true}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, models.ErrProtocol)
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, 0, s.Step())
}

func TestSessionSendDelayCancelled(t *testing.T) {
	s := NewSession(Config{Enter: "\n", Timeout: time.Second, SendDelay: time.Hour}, variables.NewStore())
	defer s.Close()
	require.NoError(t, s.Connect(context.Background(), fakeDevice(t, "Username: ", router)))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err := s.Authenticate(ctx, []AuthStep{{Expect: "Username:", Send: "admin", HasSend: true}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSessionInjectionErrorFails(t *testing.T) {
	s := NewSession(Config{Enter: "\n", Timeout: time.Second}, variables.NewStore())
	defer s.Close()
	login(t, s, fakeDevice(t, "Username: ", router))

	result := models.NewProtocolResult()
	err := s.Run(context.Background(), "backup", []models.Job{{Key: "1", Command: "%%SEQ(F13)%%"}}, &result)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, Failed, s.State())
}

func TestConnectFailure(t *testing.T) {
	s := NewSession(Config{Enter: "\n", Timeout: time.Second}, variables.NewStore())
	err := s.Connect(context.Background(), func(context.Context) (io.ReadWriteCloser, error) {
		return nil, io.ErrUnexpectedEOF
	})
	assert.ErrorIs(t, err, models.ErrProtocol)
	assert.Equal(t, Failed, s.State())
	assert.NoError(t, s.Close())
}
