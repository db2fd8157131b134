package task

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/andrej220/devbackup/internal/transport"
	"github.com/andrej220/devbackup/internal/worker"
	"github.com/andrej220/devbackup/pkg/models"
)

// MinDiscoveryPrefix bounds the size of a swept network.
const MinDiscoveryPrefix = 16

// RunDiscovery probes every host address of every discovery network,
// skipping excluded addresses.
func (e *Engine) RunDiscovery(ctx context.Context, c models.Coordinates, s models.Settings) (models.Outcome, error) {
	r := e.begin(c, s)
	r.log.Node(ctx, models.LevelInfo, ActionStart, r.text("started."))

	networks, err := e.env.Backend.Networks(ctx, r.coords)
	if err != nil {
		r.log.NodeErr(ctx, models.LevelError, ActionExecute, r.text("can't get discovery networks from API."), err)
		return r.outcome, err
	}
	excluded, err := e.env.Backend.Exclusions(ctx, r.coords)
	if err != nil {
		r.log.NodeErr(ctx, models.LevelError, ActionExecute, r.text("can't get discovery exclusions from API."), err)
		return r.outcome, err
	}

	var runners []Runner
	for _, n := range networks {
		if err := checkNetwork(n); err != nil {
			r.log.Node(ctx, models.LevelError, ActionExecute, r.text("can't sweep network %s: %v.", n.CIDR, err))
			continue
		}
		prefix, hosts, err := Hosts(n.CIDR)
		if err != nil {
			r.log.Node(ctx, models.LevelError, ActionExecute, r.text("can't sweep network %s: %v.", n.CIDR, err))
			continue
		}
		skip := r.exclusions(ctx, prefix, excluded)
		for _, ip := range hosts {
			if skip[ip] {
				continue
			}
			wc := r.coords
			wc.NodeIP = ip.String()
			runners = append(runners, worker.NewDiscovery(e.env, e.dial, wc, r.settings, n, r.log))
		}
	}

	if err := r.fanOut(ctx, runners); err != nil {
		return r.outcome, err
	}
	return r.finish(ctx, "Failed or offline"), nil
}

// exclusions returns the excluded addresses that fall inside prefix.
func (r *run) exclusions(ctx context.Context, prefix netip.Prefix, excluded []string) map[netip.Addr]bool {
	out := make(map[netip.Addr]bool)
	for _, raw := range excluded {
		ip, err := netip.ParseAddr(strings.TrimSpace(raw))
		if err != nil {
			r.log.Node(ctx, models.LevelWarning, ActionExecute, r.text("has invalid exclusion address %q.", raw))
			continue
		}
		if prefix.Contains(ip) {
			out[ip] = true
		}
	}
	return out
}

func checkNetwork(n models.Network) error {
	if n.SNMPRead == "" || n.SNMPVersion == "" || n.SNMPPort == "" {
		return fmt.Errorf("%w: snmp community, version and port are required", models.ErrValidation)
	}
	if _, err := transport.ParseSNMPVersion(n.SNMPVersion); err != nil {
		return err
	}
	port, err := strconv.Atoi(n.SNMPPort)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: bad snmp port %q", models.ErrValidation, n.SNMPPort)
	}
	return nil
}

// Hosts expands an IPv4 CIDR into its host addresses. The network and
// broadcast addresses are left out, except for /31 and /32 where every
// address is a host.
func Hosts(cidr string) (netip.Prefix, []netip.Addr, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return netip.Prefix{}, nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if !prefix.Addr().Is4() {
		return netip.Prefix{}, nil, fmt.Errorf("%w: %s is not an IPv4 network", models.ErrValidation, cidr)
	}
	if prefix.Bits() < MinDiscoveryPrefix {
		return netip.Prefix{}, nil, fmt.Errorf("%w: %s is wider than /%d", models.ErrValidation, cidr, MinDiscoveryPrefix)
	}
	prefix = prefix.Masked()

	var hosts []netip.Addr
	for ip := prefix.Addr(); ip.IsValid() && prefix.Contains(ip); ip = ip.Next() {
		hosts = append(hosts, ip)
	}
	if prefix.Bits() < 31 {
		hosts = hosts[1 : len(hosts)-1]
	}
	return prefix, hosts, nil
}
