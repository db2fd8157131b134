// Package variables resolves control sequences and %%NAME%% placeholders in
// job templates.
package variables

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/andrej220/devbackup/pkg/models"
)

const (
	NodeID = "%%NODE_ID%%"
	Task   = "%%TASK%%"
	NodeIP = "%%NODE_IP%%"
	Date   = "%%DATE%%"

	DateLayout = "2006-01-02"
)

// Store is the variable map of one device run. It is not safe for
// concurrent use; every worker owns its own copy.
type Store struct {
	vars map[string]*models.Variable
}

func NewStore() *Store {
	return &Store{vars: make(map[string]*models.Variable)}
}

// NewRunStore seeds a store with the built-in variables of one device run and
// the task-scoped variables shared by all devices.
func NewRunStore(c models.Coordinates, shared map[string]models.Variable) *Store {
	s := NewStore()
	for name, v := range shared {
		s.Set(name, v)
	}
	if c.NodeID != "" {
		s.Set(NodeID, models.Processed(NodeID, c.NodeID))
	}
	if c.TaskName != "" {
		s.Set(Task, models.Processed(Task, c.TaskName))
	}
	if c.NodeIP != "" {
		s.Set(NodeIP, models.Processed(NodeIP, c.NodeIP))
	}
	return s
}

// TaskVariables turns the backend's custom variables into processed
// variables and adds the run date. The date is taken once per task run.
func TaskVariables(custom map[string]string, now time.Time) map[string]models.Variable {
	out := make(map[string]models.Variable, len(custom)+1)
	for name, value := range custom {
		out[name] = models.Processed(name, value)
	}
	out[Date] = models.Processed(Date, now.Format(DateLayout))
	return out
}

func (s *Store) Set(name string, v models.Variable) {
	if v.Name == "" {
		v.Name = name
	}
	s.vars[name] = &v
}

// Declare registers an output variable that a later job will fill. Until it
// is filled, templates referring to it fail.
func (s *Store) Declare(name string) {
	if _, ok := s.vars[name]; !ok {
		s.vars[name] = nil
	}
}

func (s *Store) Get(name string) (models.Variable, bool) {
	v, ok := s.vars[name]
	if !ok || v == nil {
		return models.Variable{}, false
	}
	return *v, true
}

func (s *Store) Len() int { return len(s.vars) }

// Clone returns an independent copy.
func (s *Store) Clone() *Store {
	c := NewStore()
	for k, v := range s.vars {
		if v == nil {
			c.vars[k] = nil
			continue
		}
		cp := *v
		c.vars[k] = &cp
	}
	return c
}

// names returns variable names longest first so that a name which is a
// substring of another never wins over it.
func (s *Store) names() []string {
	names := make([]string, 0, len(s.vars))
	for k := range s.vars {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}

func (s *Store) String() string {
	return fmt.Sprintf("variables(%s)", strings.Join(s.names(), ","))
}
