// Package transporttest provides an in-memory SNMP agent for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/andrej220/devbackup/internal/transport"
)

// ErrNoResponse is what a session to an unreachable target returns.
var ErrNoResponse = errors.New("request timeout (after 0 retries)")

// Agent answers GETs from Values and walks with Walked. When Reachable is
// not nil, only the listed targets answer. It is safe for concurrent use.
type Agent struct {
	mu        sync.Mutex
	Values    map[string]gosnmp.SnmpPDU
	Walked    []gosnmp.SnmpPDU
	Reachable map[string]bool

	Dialed []string
	Sets   []gosnmp.SnmpPDU
}

func NewAgent(values map[string]gosnmp.SnmpPDU) *Agent {
	return &Agent{Values: values}
}

func (a *Agent) Dial(_ context.Context, c transport.SNMPConfig) (transport.SNMPClient, error) {
	if _, err := transport.ParseSNMPVersion(c.Version); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Dialed = append(a.Dialed, c.Target)
	up := a.Reachable == nil || a.Reachable[c.Target]
	return &session{agent: a, up: up, community: c.Community, timeout: c.Timeout}, nil
}

func (a *Agent) DialCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Dialed)
}

type session struct {
	agent     *Agent
	up        bool
	community string
	timeout   time.Duration
}

func (s *session) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	if !s.up {
		return nil, ErrNoResponse
	}
	s.agent.mu.Lock()
	defer s.agent.mu.Unlock()
	out := &gosnmp.SnmpPacket{}
	for _, oid := range oids {
		v, ok := s.agent.Values[oid]
		if !ok {
			v = gosnmp.SnmpPDU{Type: gosnmp.NoSuchObject}
		}
		v.Name = "." + oid
		out.Variables = append(out.Variables, v)
	}
	return out, nil
}

func (s *session) Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error) {
	if !s.up {
		return nil, ErrNoResponse
	}
	s.agent.mu.Lock()
	defer s.agent.mu.Unlock()
	s.agent.Sets = append(s.agent.Sets, pdus...)
	return &gosnmp.SnmpPacket{Variables: pdus}, nil
}

func (s *session) Walk(string) ([]gosnmp.SnmpPDU, error) {
	if !s.up {
		return nil, ErrNoResponse
	}
	s.agent.mu.Lock()
	defer s.agent.mu.Unlock()
	return append([]gosnmp.SnmpPDU(nil), s.agent.Walked...), nil
}

func (s *session) SetTimeout(d time.Duration) { s.timeout = d }
func (s *session) SetCommunity(c string)      { s.community = c }
func (s *session) Close() error               { return nil }

// Str is an OctetString value.
func Str(s string) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte(s)}
}

// IP is an IpAddress value.
func IP(ip string) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Type: gosnmp.IPAddress, Value: ip}
}
