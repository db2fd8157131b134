package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/transport"
	"github.com/andrej220/devbackup/pkg/models"
	"github.com/gosnmp/gosnmp"
)

const ipAdEntAddr = "1.3.6.1.2.1.4.20.1.1"

// discoveryOIDs maps the probed objects to result fields.
var discoveryOIDs = map[string]string{
	"1.3.6.1.2.1.1.2.0":           "sysobject_id",
	"1.3.6.1.2.1.16.19.3.0":       "hw",
	"1.3.6.1.2.1.1.1.0":           "sys_description",
	"1.3.6.1.2.1.1.5.0":           "hostname",
	"1.3.6.1.2.1.1.6.0":           "location",
	"1.3.6.1.2.1.1.4.0":           "contact",
	"1.3.6.1.2.1.17.1.1.0":        "mac",
	"1.3.6.1.2.1.47.1.1.1.1.11.1": "serial",
}

// DiscoveryTarget is one address of a discovery network.
type DiscoveryTarget struct {
	IP      string
	Network models.Network
}

// Discover probes one address. Objects the agent does not know are left
// empty; when none answers the address is reported as not discovered.
func Discover(ctx context.Context, dial transport.SNMPDialer, t DiscoveryTarget, settings models.Settings, log lg.Logger) (map[string]string, error) {
	if log == nil {
		log = lg.Discard
	}
	if err := settings.ValidateSNMP(); err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(t.Network.SNMPPort))
	if err != nil {
		return nil, fmt.Errorf("%w: network %s: can't parse SNMP port %q", models.ErrParse, t.Network.CIDR, t.Network.SNMPPort)
	}
	if dial == nil {
		dial = transport.DialSNMP
	}
	client, err := dial(ctx, transport.SNMPConfig{
		Target:    t.IP,
		Port:      port,
		Community: t.Network.SNMPRead,
		Version:   t.Network.SNMPVersion,
		Timeout:   settings.SNMPTimeout,
		Retries:   settings.SNMPRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: can't create SNMP session: %v", models.ErrProtocol, err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			log.Debug("can't close SNMP session", lg.Err(cerr))
		}
	}()

	result := make(map[string]string, len(discoveryOIDs)+3)
	answered := false
	for _, oid := range models.SortedKeys(discoveryOIDs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		field := discoveryOIDs[oid]
		result[field] = ""
		packet, err := client.Get([]string{oid})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrProtocol, t.IP, err)
		}
		if packet == nil {
			return nil, fmt.Errorf("%w: %s: empty response PDU", models.ErrProtocol, t.IP)
		}
		if packet.Error == gosnmp.NoSuchName {
			continue
		}
		if packet.Error != gosnmp.NoError {
			return nil, fmt.Errorf("%w: %s: SNMP request error - %s", models.ErrProtocol, t.IP, packet.Error)
		}
		for _, vb := range packet.Variables {
			if isException(vb) {
				continue
			}
			result[field] = FormatValue(vb)
			answered = true
		}
	}
	if !answered {
		return nil, fmt.Errorf("%w: %s: no discovery object answered", models.ErrProtocol, t.IP)
	}

	ips := []string{}
	pdus, err := client.Walk(ipAdEntAddr)
	if err != nil {
		log.Warn("can't perform snmpwalk() operation", lg.String("ip", t.IP), lg.Err(err))
	}
	for _, vb := range pdus {
		if ip := FormatValue(vb); keepInterfaceIP(ip) {
			ips = append(ips, ip)
		}
	}
	encoded, err := json.Marshal(ips)
	if err != nil {
		return nil, err
	}
	result["ip_interfaces"] = string(encoded)
	result["ip"] = t.IP
	result["network_id"] = t.Network.ID
	return result, nil
}

// keepInterfaceIP drops unset, loopback and link-local interface addresses.
func keepInterfaceIP(ip string) bool {
	switch {
	case len(ip) < 7, ip == "0.0.0.0":
		return false
	case strings.HasPrefix(ip, "127"):
		return false
	case strings.HasPrefix(ip, "169.254."), strings.HasPrefix(ip, "169.245."):
		return false
	}
	return true
}
