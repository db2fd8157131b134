package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Level is the backend log severity. Higher is more severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarning
	LevelAlert
	LevelCritical
	LevelError
	LevelEmerg
)

var levelNames = []string{"DEBUG", "INFO", "NOTICE", "WARNING", "ALERT", "CRITICAL", "ERROR", "EMERG"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelEmerg {
		return "INFO"
	}
	return levelNames[l]
}

// ParseLevel maps a level name onto a Level. Unknown names yield INFO, false.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == s {
			return Level(i), true
		}
	}
	return LevelInfo, false
}

const (
	DefaultThreadCount  = 10
	DefaultSNMPTimeout  = 500 * time.Millisecond
	DefaultSNMPRetries  = 1
	minCLITimeout       = 100 * time.Millisecond
	maxCLITimeout       = 120 * time.Second
	minTelnetSendDelay  = 10 * time.Millisecond
	maxTelnetSendDelay  = 10 * time.Second
)

// Settings is the run settings bundle. It is copied into every worker and
// never mutated after a task starts.
type Settings struct {
	ThreadCount           int           `json:"threadCount" validate:"min=1"`
	SNMPRetries           int           `json:"snmpRetries" validate:"min=0,max=10"`
	SNMPTimeout           time.Duration `json:"snmpTimeout"`
	TelnetTimeout         time.Duration `json:"telnetTimeout"`
	TelnetBeforeSendDelay time.Duration `json:"telnetBeforeSendDelay"`
	SSHTimeout            time.Duration `json:"sshTimeout"`
	SSHBeforeSendDelay    time.Duration `json:"sshBeforeSendDelay"`
	LogLevel              Level         `json:"systemLogLevel"`
	DataPath              string        `json:"dataPath"`
	DeviceLock            bool          `json:"deviceLock"`
}

// ParseSettings converts the backend's flat settings map. Absent numbers keep
// their zero value or default; malformed numbers fail with ErrParse. Ranges
// that only matter for one protocol are checked by that protocol's Validate*.
func ParseSettings(raw map[string]string) (Settings, error) {
	s := Settings{
		ThreadCount: DefaultThreadCount,
		SNMPTimeout: DefaultSNMPTimeout,
		LogLevel:    LevelInfo,
		DataPath:    raw["dataPath"],
	}
	var err error
	if s.ThreadCount, err = intSetting(raw, "threadCount", DefaultThreadCount); err != nil {
		return s, err
	}
	if s.SNMPRetries, err = intSetting(raw, "snmpRetries", 0); err != nil {
		return s, err
	}
	if s.SNMPTimeout, err = msSetting(raw, "snmpTimeout", DefaultSNMPTimeout); err != nil {
		return s, err
	}
	if s.TelnetTimeout, err = msSetting(raw, "telnetTimeout", 0); err != nil {
		return s, err
	}
	if s.TelnetBeforeSendDelay, err = msSetting(raw, "telnetBeforeSendDelay", 0); err != nil {
		return s, err
	}
	if s.SSHTimeout, err = msSetting(raw, "sshTimeout", 0); err != nil {
		return s, err
	}
	if s.SSHBeforeSendDelay, err = msSetting(raw, "sshBeforeSendDelay", 0); err != nil {
		return s, err
	}
	if v := raw["systemLogLevel"]; v != "" {
		s.LogLevel, _ = ParseLevel(v)
	}
	if v := raw["deviceLock"]; v != "" {
		if s.DeviceLock, err = strconv.ParseBool(v); err != nil {
			return s, fmt.Errorf("%w: deviceLock %q", ErrParse, v)
		}
	}
	if s.ThreadCount < 1 {
		s.ThreadCount = DefaultThreadCount
	}
	return s, validateStruct(s)
}

func (s Settings) ValidateSNMP() error {
	if s.SNMPRetries < 1 || s.SNMPRetries > 10 {
		return fmt.Errorf("%w: SNMP retries count must be between 1 and 10", ErrValidation)
	}
	return nil
}

func (s Settings) ValidateTelnet() error {
	if s.TelnetTimeout == 0 {
		return fmt.Errorf("%w: telnet timeout is not set", ErrValidation)
	}
	if s.TelnetTimeout < minCLITimeout || s.TelnetTimeout > maxCLITimeout {
		return fmt.Errorf("%w: telnet timeout must be between 100 and 120000 milliseconds", ErrValidation)
	}
	if s.TelnetBeforeSendDelay < minTelnetSendDelay || s.TelnetBeforeSendDelay > maxTelnetSendDelay {
		return fmt.Errorf("%w: telnet before-send delay must be between 10 and 10000 milliseconds", ErrValidation)
	}
	return nil
}

func (s Settings) ValidateSSH() error {
	if s.SSHTimeout == 0 {
		return fmt.Errorf("%w: SSH timeout is not set", ErrValidation)
	}
	if s.SSHTimeout < minCLITimeout || s.SSHTimeout > maxCLITimeout {
		return fmt.Errorf("%w: SSH timeout must be between 100 and 120000 milliseconds", ErrValidation)
	}
	return nil
}

func intSetting(raw map[string]string, key string, def int) (int, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%w: can't parse %s %q to integer", ErrParse, key, v)
	}
	return n, nil
}

func msSetting(raw map[string]string, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%w: can't parse %s %q to integer", ErrParse, key, v)
	}
	return time.Duration(n) * time.Millisecond, nil
}
