package variables

import (
	"testing"
	"time"

	"github.com/andrej220/devbackup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectVariables(t *testing.T) {
	tests := []struct {
		name     string
		vars     map[string]models.Variable
		template string
		status   Status
		command  string
	}{
		{
			name:     "process substitutes",
			vars:     map[string]models.Variable{"%%X%%": models.Processed("%%X%%", "5")},
			template: "show %%X%%",
			status:   OK,
			command:  "show 5",
		},
		{
			name:     "all occurrences",
			vars:     map[string]models.Variable{"%%X%%": models.Processed("%%X%%", "5")},
			template: "%%X%% %%X%%",
			status:   OK,
			command:  "5 5",
		},
		{
			name:     "restrict success skips",
			vars:     map[string]models.Variable{"%%X%%": {Action: models.ActionRestrict, Status: models.StatusSuccess}},
			template: "show %%X%%",
			status:   Skip,
		},
		{
			name:     "restrict exception fails",
			vars:     map[string]models.Variable{"%%X%%": {Action: models.ActionRestrict, Status: models.StatusException, Message: "bad"}},
			template: "show %%X%%",
			status:   Error,
		},
		{
			name:     "restrict unknown status fails",
			vars:     map[string]models.Variable{"%%X%%": {Action: models.ActionRestrict, Status: "weird"}},
			template: "show %%X%%",
			status:   Error,
		},
		{
			name:     "process empty fails",
			vars:     map[string]models.Variable{"%%X%%": {Action: models.ActionProcess, Status: models.StatusSuccess}},
			template: "show %%X%%",
			status:   Error,
		},
		{
			name:     "no markers untouched",
			vars:     map[string]models.Variable{"X": models.Processed("X", "5")},
			template: "show X",
			status:   OK,
			command:  "show X",
		},
		{
			name: "longest name wins",
			vars: map[string]models.Variable{
				"%%PORT%%":    models.Processed("%%PORT%%", "1"),
				"%%PORT%%_2":  models.Processed("%%PORT%%_2", "ge-0/0/2"),
			},
			template: "show interface %%PORT%%_2",
			status:   OK,
			command:  "show interface ge-0/0/2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			for k, v := range tt.vars {
				s.Set(k, v)
			}
			res := s.Inject(tt.template, DefaultControlSequences("\n"))
			assert.Equal(t, tt.status, res.Status)
			if tt.status == OK {
				assert.Equal(t, tt.command, res.Command)
				assert.False(t, res.CtrlSeqInjected)
			}
			if tt.status == Error {
				assert.ErrorIs(t, res.Err, models.ErrValidation)
			}
		})
	}
}

func TestInjectDeclaredButUnset(t *testing.T) {
	s := NewStore()
	s.Declare("%%OUT%%")
	res := s.Inject("show %%OUT%%", DefaultControlSequences("\n"))
	assert.Equal(t, Error, res.Status)

	_, ok := s.Get("%%OUT%%")
	assert.False(t, ok)
}

func TestInjectControlSequences(t *testing.T) {
	s := NewStore()
	s.Set("%%X%%", models.Processed("%%X%%", "5"))

	res := s.Inject("%%SEQ(ENTER)%%", DefaultControlSequences("\r\n"))
	require.Equal(t, OK, res.Status)
	assert.Equal(t, "\r\n", res.Command)
	assert.True(t, res.CtrlSeqInjected)

	res = s.Inject("%%SEQ(Q)%%", DefaultControlSequences("\n"))
	assert.Equal(t, "Q", res.Command)

	res = s.Inject("%%SEQ(CTRL-C)%%", DefaultControlSequences("\n"))
	assert.Equal(t, "\x03", res.Command)

	// control sequences win over variables
	res = s.Inject("%%X%%%%SEQ(ESC)%%", DefaultControlSequences("\n"))
	assert.Equal(t, "%%X%%\x1b", res.Command)

	res = s.Inject("%%SEQ(F13)%%", DefaultControlSequences("\n"))
	assert.Equal(t, Error, res.Status)
}

func TestRunStoreBuiltins(t *testing.T) {
	shared := TaskVariables(map[string]string{"%%VLAN%%": "10"}, time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC))
	s := NewRunStore(models.Coordinates{NodeID: "42", TaskName: "backup", NodeIP: "10.0.0.1"}, shared)

	res := s.Inject("%%TASK%%-%%NODE_ID%%-%%NODE_IP%%-%%DATE%%-%%VLAN%%", DefaultControlSequences("\n"))
	require.Equal(t, OK, res.Status)
	assert.Equal(t, "backup-42-10.0.0.1-2024-03-07-10", res.Command)

	clone := s.Clone()
	clone.Set("%%VLAN%%", models.Processed("%%VLAN%%", "20"))
	v, _ := s.Get("%%VLAN%%")
	assert.Equal(t, "10", v.Result)
}
