package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andrej220/devbackup/pkg/models"
	"github.com/gosnmp/gosnmp"
)

// SNMPClient is the subset of gosnmp the drivers use.
type SNMPClient interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error)
	Walk(root string) ([]gosnmp.SnmpPDU, error)
	SetTimeout(d time.Duration)
	SetCommunity(community string)
	Close() error
}

type SNMPConfig struct {
	Target    string
	Port      int
	Community string
	Version   string
	Timeout   time.Duration
	Retries   int
}

// SNMPDialer opens an SNMP session; drivers take one so tests can fake it.
type SNMPDialer func(ctx context.Context, c SNMPConfig) (SNMPClient, error)

// ParseSNMPVersion maps the backend's version code: "0" is v1, "1" is v2c.
func ParseSNMPVersion(v string) (gosnmp.SnmpVersion, error) {
	switch strings.TrimSpace(v) {
	case "0":
		return gosnmp.Version1, nil
	case "1":
		return gosnmp.Version2c, nil
	default:
		return 0, fmt.Errorf("%w: unsupported SNMP version %q", models.ErrParse, v)
	}
}

type snmpClient struct {
	g *gosnmp.GoSNMP
}

func DialSNMP(ctx context.Context, c SNMPConfig) (SNMPClient, error) {
	version, err := ParseSNMPVersion(c.Version)
	if err != nil {
		return nil, err
	}
	g := &gosnmp.GoSNMP{
		Target:         c.Target,
		Port:           uint16(c.Port),
		Community:      c.Community,
		Version:        version,
		Timeout:        c.Timeout,
		Retries:        c.Retries,
		Context:        ctx,
		MaxRepetitions: gosnmp.Default.MaxRepetitions,
		MaxOids:        gosnmp.MaxOids,
	}
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s:%d: %w", c.Target, c.Port, err)
	}
	return &snmpClient{g: g}, nil
}

func (s *snmpClient) Get(oids []string) (*gosnmp.SnmpPacket, error) { return s.g.Get(oids) }
func (s *snmpClient) Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error) {
	return s.g.Set(pdus)
}

// Walk uses GETBULK where the version allows it.
func (s *snmpClient) Walk(root string) ([]gosnmp.SnmpPDU, error) {
	if s.g.Version == gosnmp.Version1 {
		return s.g.WalkAll(root)
	}
	return s.g.BulkWalkAll(root)
}

func (s *snmpClient) SetTimeout(d time.Duration) { s.g.Timeout = d }
func (s *snmpClient) SetCommunity(c string)     { s.g.Community = c }

func (s *snmpClient) Close() error {
	if s.g.Conn == nil {
		return nil
	}
	return s.g.Conn.Close()
}
