// Package config loads and watches the daemon configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andrej220/devbackup/internal/devicelock"
	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/pkg/backend"
	"github.com/andrej220/devbackup/pkg/config/configstore"
	"github.com/andrej220/devbackup/pkg/config/filestore"
	"github.com/andrej220/devbackup/pkg/config/mongostore"
	"github.com/andrej220/devbackup/pkg/models"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var ErrInvalidStoreType = errors.New("invalid store type")

// Config is a store that can also report changes.
type Config interface {
	configstore.ConfigStore
	Watch(ctx context.Context, onChange func()) error
}

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"`
}

func NewStore(ctx context.Context, storeType StoreType, cfg any) (Config, error) {
	switch storeType {
	case FileStore:
		fc, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("file store expects *FileConfig, got %T", cfg)
		}
		return filestore.New(fc.Path), nil
	case MongoStore:
		mc, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("mongo store expects *MongoConfig, got %T", cfg)
		}
		return mongostore.New(ctx, mc.URI, mc.DBName, mc.CollName, mc.ID)
	default:
		return nil, ErrInvalidStoreType
	}
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" bson:"addr"`
	JWTSecret       string        `yaml:"jwtSecret" json:"jwtSecret" bson:"jwtSecret" validate:"required_with=Addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout" json:"readTimeout" bson:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" json:"writeTimeout" bson:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout" bson:"shutdownTimeout"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers,omitempty" json:"brokers" bson:"brokers" validate:"omitempty,dive,required"`
	RequestTopic string   `yaml:"requestTopic" json:"requestTopic" bson:"requestTopic"`
	Group        string   `yaml:"group" json:"group" bson:"group" validate:"required_with=RequestTopic"`
	OutcomeTopic string   `yaml:"outcomeTopic" json:"outcomeTopic" bson:"outcomeTopic"`
}

// Enabled reports whether any Kafka topic can be used.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// EngineConfig is the daemon configuration. Run settings are not part of
// it; they are fetched from the backend for every run.
type EngineConfig struct {
	ServiceName string            `yaml:"serviceName" json:"serviceName" bson:"serviceName" validate:"required"`
	Log         lg.Config         `yaml:"log" json:"log" bson:"log"`
	Backend     backend.Config    `yaml:"backend" json:"backend" bson:"backend"`
	Server      ServerConfig      `yaml:"server" json:"server" bson:"server"`
	Kafka       KafkaConfig       `yaml:"kafka" json:"kafka" bson:"kafka"`
	Lock        devicelock.Config `yaml:"lock" json:"lock" bson:"lock"`
	ArchiveDir  string            `yaml:"archiveDir" json:"archiveDir" bson:"archiveDir"`
}

func Default() EngineConfig {
	return EngineConfig{
		ServiceName: "devbackupd",
		Log:         lg.Config{Format: "json"},
		Backend:     backend.Config{Scheme: "https", Timeout: 30 * time.Second},
		Server: ServerConfig{
			Addr:            ":8081",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Lock: devicelock.Config{Mode: devicelock.ModeNone},
	}
}

func (c EngineConfig) Validate() error {
	if err := models.Validate(c); err != nil {
		return err
	}
	if c.Kafka.Enabled() && c.Kafka.RequestTopic == "" && c.Kafka.OutcomeTopic == "" {
		return fmt.Errorf("%w: kafka brokers set without any topic", models.ErrValidation)
	}
	return nil
}

// Load reads store over the defaults and validates the result.
func Load(ctx context.Context, store configstore.ConfigStore) (EngineConfig, error) {
	cfg := Default()
	if err := store.Load(ctx, &cfg); err != nil {
		return EngineConfig{}, err
	}
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = cfg.ServiceName
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// RestartRequired names the sections of next that differ from c but are
// only read at startup: the backend client, device lock, archive, logger,
// listener and Kafka clients are built once. The JWT secret is read per
// request and never needs a restart.
func (c EngineConfig) RestartRequired(next EngineConfig) []string {
	server, nextServer := c.Server, next.Server
	server.JWTSecret, nextServer.JWTSecret = "", ""

	var changed []string
	for _, s := range []struct {
		name      string
		cur, next any
	}{
		{"serviceName", c.ServiceName, next.ServiceName},
		{"log", c.Log, next.Log},
		{"backend", c.Backend, next.Backend},
		{"server", server, nextServer},
		{"kafka", c.Kafka, next.Kafka},
		{"lock", c.Lock, next.Lock},
		{"archiveDir", c.ArchiveDir, next.ArchiveDir},
	} {
		if !reflect.DeepEqual(s.cur, s.next) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

// Live holds the current configuration and swaps it when the store reports
// a valid change. An invalid change is logged and the previous value kept.
// Only values read through Get after startup follow a reload; see
// RestartRequired.
type Live struct {
	store Config
	cur   atomic.Pointer[EngineConfig]
}

func NewLive(ctx context.Context, store Config) (*Live, error) {
	cfg, err := Load(ctx, store)
	if err != nil {
		return nil, err
	}
	l := &Live{store: store}
	l.cur.Store(&cfg)
	return l, nil
}

func (l *Live) Get() EngineConfig { return *l.cur.Load() }

// Watch reloads on every change until ctx is done. Stores without change
// notification are not an error.
func (l *Live) Watch(ctx context.Context) error {
	log := lg.FromContext(ctx)
	err := l.store.Watch(ctx, func() {
		cfg, err := Load(ctx, l.store)
		if err != nil {
			log.Warn("config reload rejected", lg.Err(err))
			return
		}
		prev := l.cur.Swap(&cfg)
		log.Info("config reloaded")
		if changed := prev.RestartRequired(cfg); len(changed) > 0 {
			log.Warn("config change takes effect after a restart", lg.String("sections", strings.Join(changed, ",")))
		}
	})
	if errors.Is(err, configstore.ErrWatchUnsupported) {
		log.Debug("config store does not support watching")
		return nil
	}
	return err
}
