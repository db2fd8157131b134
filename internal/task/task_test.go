package task

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/devbackup/internal/devicelock"
	"github.com/andrej220/devbackup/internal/protocol"
	"github.com/andrej220/devbackup/internal/transport/transporttest"
	"github.com/andrej220/devbackup/internal/vendor"
	"github.com/andrej220/devbackup/internal/worker"
	"github.com/andrej220/devbackup/pkg/backend"
	"github.com/andrej220/devbackup/pkg/backend/backendtest"
	"github.com/andrej220/devbackup/pkg/models"
)

var settings = models.Settings{ThreadCount: 2, SNMPRetries: 1, SNMPTimeout: time.Second, LogLevel: models.LevelDebug}

func newEngine(t *testing.T) (*Engine, *backendtest.Fake, *transporttest.Agent) {
	t.Helper()
	fake := backendtest.New()
	agent := transporttest.NewAgent(map[string]gosnmp.SnmpPDU{
		"1.3.6.1.2.1.1.5.0": transporttest.Str("edge1"),
	})
	env := worker.Env{
		Backend:  fake,
		Registry: vendor.Default(vendor.WithSNMPOptions(protocol.WithSNMPDialer(agent.Dial))),
		Locker:   devicelock.NewLocal(),
	}
	now := func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return New(env, WithSNMPDialer(agent.Dial), WithClock(now)), fake, agent
}

func nodeTask() models.Coordinates {
	return models.Coordinates{ScheduleID: "3", TaskName: "inventory", TaskType: models.TaskNode, Put: "db", Table: "out_inventory"}
}

func seedNodes(fake *backendtest.Fake) {
	fake.Nodes = []models.NodeAssignment{
		{NodeID: "17", WorkerID: "w17", IP: "10.0.0.17", Vendor: "Cisco", Model: "C2960", Protocol: models.ProtocolSNMP},
		{NodeID: "18", WorkerID: "w18", IP: "10.0.0.18", Vendor: "Cisco", Model: "C2960", Protocol: "ftp"},
		{NodeID: "19", WorkerID: "w19", IP: "10.0.0.19", Vendor: "Cisco", Model: "C2960", Protocol: models.ProtocolSNMP},
	}
	for _, id := range []string{"17", "19"} {
		fake.Credentials[id] = models.Credentials{SNMPRead: "public", SNMPVersion: "1", SNMPPort: 161}
	}
	fake.JobsByWorker["w17"] = []models.Job{{Key: "1", Command: "1.3.6.1.2.1.1.5.0", TableField: "hostname"}}
}

func TestRunNodeTask(t *testing.T) {
	e, fake, _ := newEngine(t)
	seedNodes(fake)

	out, err := e.Run(context.Background(), nodeTask(), settings)
	require.NoError(t, err)
	assert.NotEqual(t, "", out.RunID.String())
	assert.Equal(t, "inventory", out.TaskName)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 2, out.Failed, "node 18 has an unknown protocol, node 19 no jobs")
	assert.False(t, out.Success)

	require.Len(t, fake.Results, 1)
	assert.Equal(t, "17", fake.Results[0].NodeID)
	assert.Len(t, fake.LogsWithAction(ActionSpawn), 1)
	assert.Len(t, fake.LogsWithAction(ActionStart), 1)

	finish := fake.LogsWithAction(ActionFinish)
	require.Len(t, finish, 1)
	assert.Equal(t, "Task inventory has been finished. Success: 1. Failed: 2.", firstLine(finish[0].Entry.Message))
}

func TestRunNodeTaskUnknownProtocolOnly(t *testing.T) {
	e, fake, agent := newEngine(t)
	fake.Nodes = []models.NodeAssignment{
		{NodeID: "18", WorkerID: "w18", IP: "10.0.0.18", Vendor: "Cisco", Model: "C2960", Protocol: "ftp"},
	}

	out, err := e.Run(context.Background(), nodeTask(), settings)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, 0, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.False(t, out.Success)
	assert.Zero(t, agent.DialCount())
	assert.Empty(t, fake.Results)
	assert.Len(t, fake.LogsWithAction(ActionSpawn), 1)
}

func TestRunNodeTaskOnSingleNode(t *testing.T) {
	e, fake, agent := newEngine(t)
	seedNodes(fake)
	c := nodeTask()
	c.RunOnNode = "17"

	out, err := e.Run(context.Background(), c, settings)
	require.NoError(t, err)
	assert.Equal(t, models.Outcome{RunID: out.RunID, TaskName: "inventory", Success: true, Total: 1, Succeeded: 1}, out)
	assert.Contains(t, agent.Dialed, "10.0.0.17")
	assert.NotContains(t, agent.Dialed, "10.0.0.19")
}

func TestRunNodeTaskBackendErrors(t *testing.T) {
	tests := []struct {
		method string
		action string
	}{
		{backend.MethodVariables, ActionVariables},
		{backend.MethodNodesByTask, ActionNodes},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			e, fake, _ := newEngine(t)
			seedNodes(fake)
			fake.Fail[tt.method] = &backend.ResponseError{Method: tt.method, Code: 500}

			_, err := e.Run(context.Background(), nodeTask(), settings)
			var re *backend.ResponseError
			assert.True(t, errors.As(err, &re))
			assert.NotEmpty(t, fake.LogsWithAction(tt.action))
			assert.Empty(t, fake.Results)
		})
	}
}

func TestRunNodeTaskCancelled(t *testing.T) {
	e, fake, _ := newEngine(t)
	seedNodes(fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, nodeTask(), settings)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, fake.LogsWithAction(ActionWait))
	assert.Empty(t, fake.LogsWithAction(ActionFinish))
}

func TestRunDiscovery(t *testing.T) {
	e, fake, agent := newEngine(t)
	agent.Walked = []gosnmp.SnmpPDU{transporttest.IP("10.0.0.17")}
	agent.Reachable = map[string]bool{"10.0.0.17": true}
	fake.NetworkList = []models.Network{
		{CIDR: "10.0.0.16/29", ID: "4", SNMPRead: "public", SNMPVersion: "1", SNMPPort: "161"},
		{CIDR: "10.1.0.0/30", ID: "5", SNMPVersion: "1", SNMPPort: "161"},
		{CIDR: "10.2.0.0/30", ID: "6", SNMPRead: "public", SNMPVersion: "1", SNMPPort: "port"},
	}
	fake.Excluded = []string{"10.0.0.18", "192.168.1.1", "bogus"}
	c := models.Coordinates{ScheduleID: "8", TaskName: "discovery", TaskType: models.TaskDiscovery}

	out, err := e.Run(context.Background(), c, settings)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Total)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 4, out.Failed)
	assert.NotContains(t, agent.Dialed, "10.0.0.18")

	require.Len(t, fake.Discovery, 1)
	assert.Equal(t, "4", fake.Discovery[0]["network_id"])

	var warnings, errs int
	for _, r := range fake.LogsWithAction(ActionExecute) {
		switch r.Entry.Severity {
		case models.LevelWarning:
			warnings++
		case models.LevelError:
			errs++
		}
	}
	assert.Equal(t, 1, warnings, "invalid exclusion")
	assert.Equal(t, 2, errs, "two unusable networks")

	finish := fake.LogsWithAction(ActionFinish)
	require.Len(t, finish, 1)
	assert.Equal(t, "Task discovery has been finished. Success: 1. Failed or offline: 4.", firstLine(finish[0].Entry.Message))
}

func TestHosts(t *testing.T) {
	tests := []struct {
		cidr    string
		want    []string
		wantErr bool
	}{
		{cidr: "10.0.0.16/30", want: []string{"10.0.0.17", "10.0.0.18"}},
		{cidr: "10.0.0.17/30", want: []string{"10.0.0.17", "10.0.0.18"}},
		{cidr: "10.0.0.16/31", want: []string{"10.0.0.16", "10.0.0.17"}},
		{cidr: "10.0.0.9/32", want: []string{"10.0.0.9"}},
		{cidr: "10.0.0.0/8", wantErr: true},
		{cidr: "2001:db8::/120", wantErr: true},
		{cidr: "10.0.0.0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			_, hosts, err := Hosts(tt.cidr)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrValidation)
				return
			}
			require.NoError(t, err)
			var got []string
			for _, h := range hosts {
				got = append(got, h.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, hosts, err := Hosts("192.168.0.0/24")
	require.NoError(t, err)
	assert.Len(t, hosts, 254)
	assert.Equal(t, netip.MustParseAddr("192.168.0.254"), hosts[len(hosts)-1])
}

func TestRunSystemTask(t *testing.T) {
	tests := []struct {
		name      string
		ok        bool
		fail      error
		wantLevel models.Level
	}{
		{name: "done", ok: true, wantLevel: models.LevelInfo},
		{name: "refused", ok: false, wantLevel: models.LevelError},
		{name: "api error", fail: &backend.ResponseError{Code: 502}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, fake, _ := newEngine(t)
			fake.SystemOK = tt.ok
			if tt.fail != nil {
				fake.Fail[backend.SystemTaskMethod("clean_up_logs")] = tt.fail
			}
			c := models.Coordinates{TaskName: "clean_up_logs", TaskType: models.TaskSystem}

			out, err := e.Run(context.Background(), c, settings)
			if tt.fail != nil {
				assert.Error(t, err)
				assert.Empty(t, fake.LogsWithAction(ActionFinish))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, out.Success)
			finish := fake.LogsWithAction(ActionFinish)
			require.Len(t, finish, 1)
			assert.Equal(t, tt.wantLevel, finish[0].Entry.Severity)
		})
	}
}

func TestRunConsoleTask(t *testing.T) {
	e, fake, _ := newEngine(t)
	c := models.Coordinates{ScheduleID: "2", TaskName: "rotate", TaskType: models.TaskConsole}

	out, err := e.Run(context.Background(), c, settings)
	require.NoError(t, err)
	assert.True(t, out.Success)
	require.Len(t, fake.Consoles, 1)
	assert.Equal(t, "rotate", fake.Consoles[0].TaskName)

	fake.Fail[backend.MethodConsoleCommand] = &backend.ResponseError{Code: 500}
	out, err = e.Run(context.Background(), c, settings)
	assert.Error(t, err)
	assert.Equal(t, 1, out.Failed)
}

func TestRunUnknownTaskType(t *testing.T) {
	e, fake, _ := newEngine(t)
	_, err := e.Run(context.Background(), models.Coordinates{TaskName: "x", TaskType: "cron"}, settings)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Len(t, fake.LogsWithAction(ActionExecute), 1)
}

func firstLine(s string) string {
	for i := range s {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
