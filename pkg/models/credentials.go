package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Credentials is the per-device secret bundle as returned by the backend.
// Ports are 0 when absent; each driver checks the fields it needs.
type Credentials struct {
	SSHLogin       string
	SSHPassword    string
	EnablePassword string
	SSHPort        int

	TelnetLogin    string
	TelnetPassword string
	TelnetPort     int

	AuthSequence string

	SNMPRead    string
	SNMPSet     string
	SNMPVersion string
	SNMPPort    int
}

func ParseCredentials(raw map[string]string) (Credentials, error) {
	c := Credentials{
		SSHLogin:       raw["ssh_login"],
		SSHPassword:    raw["ssh_password"],
		EnablePassword: raw["enable_password"],
		TelnetLogin:    raw["telnet_login"],
		TelnetPassword: raw["telnet_password"],
		AuthSequence:   raw["auth_sequence"],
		SNMPRead:       raw["snmp_read"],
		SNMPSet:        raw["snmp_set"],
		SNMPVersion:    strings.TrimSpace(raw["snmp_version"]),
	}
	var err error
	if c.SSHPort, err = port(raw, "port_ssh"); err != nil {
		return c, err
	}
	if c.TelnetPort, err = port(raw, "port_telnet"); err != nil {
		return c, err
	}
	if c.SNMPPort, err = port(raw, "port_snmp"); err != nil {
		return c, err
	}
	return c, nil
}

func port(raw map[string]string, key string) (int, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return 0, nil
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 0 || p > 65535 {
		return 0, fmt.Errorf("%w: can't parse %s %q", ErrParse, key, v)
	}
	return p, nil
}
