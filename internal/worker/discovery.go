package worker

import (
	"context"
	"errors"

	"github.com/andrej220/devbackup/internal/protocol"
	"github.com/andrej220/devbackup/internal/transport"
	"github.com/andrej220/devbackup/pkg/backend"
	"github.com/andrej220/devbackup/pkg/models"
)

const ActionDiscovery = "DISCOVERY"

// Discovery probes one address of a discovery network and posts what it
// found.
type Discovery struct {
	env      Env
	dial     transport.SNMPDialer
	coords   models.Coordinates
	settings models.Settings
	network  models.Network
	log      *backend.LogHelper
}

func NewDiscovery(env Env, dial transport.SNMPDialer, c models.Coordinates, s models.Settings, n models.Network, log *backend.LogHelper) *Discovery {
	return &Discovery{env: env, dial: dial, coords: c, settings: s, network: n, log: log.For(c)}
}

func (w *Discovery) Run(ctx context.Context) error {
	c := w.coords
	target := protocol.DiscoveryTarget{IP: c.NodeIP, Network: w.network}
	logger := w.env.logger().With(runFields(c)...)

	result, err := protocol.Discover(ctx, w.dial, target, w.settings, logger)
	if err != nil {
		// silent addresses are the normal case on a sweep
		level := models.LevelError
		if errors.Is(err, models.ErrProtocol) || errors.Is(err, context.Canceled) {
			level = models.LevelDebug
		}
		w.log.NodeErr(ctx, level, ActionDiscovery, "Task "+c.TaskName+": "+c.NodeIP+" not discovered.", err)
		return err
	}
	if err := w.env.Backend.SetDiscoveryResult(ctx, c, result); err != nil {
		w.log.NodeErr(ctx, models.LevelError, ActionDiscovery, "Task "+c.TaskName+": failed to set result via API.", err)
		return err
	}
	return nil
}
