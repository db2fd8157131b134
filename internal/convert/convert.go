// Package convert post-processes captured values with configurable converter
// chains keyed by task and table field.
package convert

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/andrej220/devbackup/pkg/models"
)

const (
	TypeTrim          = "trim"
	TypeMAC           = "mac"
	TypeSTPRootPort   = "stp_root_port"
	TypeZyxelRootPort = "zyxel_root_port"
)

// Converter rewrites one captured variable. A converter that sets the action
// to restrict ends the chain.
type Converter interface {
	Convert(models.Variable) models.Variable
	Name() string
}

type ruleKey struct {
	task  string
	field string
}

// Chain holds the registered converters and the rules that select them.
type Chain struct {
	converters map[string]Converter
	rules      map[ruleKey][]string
}

func NewChain() *Chain {
	c := &Chain{
		converters: make(map[string]Converter),
		rules:      make(map[ruleKey][]string),
	}
	c.Register(&TrimConverter{})
	c.Register(&MACConverter{})
	c.Register(&STPRootPortConverter{})
	c.Register(&ZyxelRootPortConverter{})
	return c
}

func (c *Chain) Register(cv Converter) {
	c.converters[cv.Name()] = cv
}

// Rule makes values captured for field during task go through names in order.
func (c *Chain) Rule(task, field string, names ...string) error {
	for _, name := range names {
		if _, ok := c.converters[name]; !ok {
			return fmt.Errorf("converter %q not registered", name)
		}
	}
	c.rules[ruleKey{task, field}] = names
	return nil
}

func (c *Chain) mustRule(task, field string, names ...string) *Chain {
	if err := c.Rule(task, field, names...); err != nil {
		panic(err)
	}
	return c
}

// Convert returns the variable to store for a capture. Without a matching
// rule the value passes unchanged with action process.
func (c *Chain) Convert(task, field, variable, value string) models.Variable {
	v := models.Processed(variable, value)
	if field == "" {
		return v
	}
	for _, name := range c.rules[ruleKey{task, field}] {
		v = c.converters[name].Convert(v)
		if v.Action != models.ActionProcess {
			break
		}
	}
	return v
}

// Identity is the chain used by drivers that never rewrite captures.
func Identity() *Chain { return NewChain() }

// STP returns the spanning-tree rules shared by SNMP drivers.
func STP() *Chain {
	c := NewChain()
	c.mustRule("stp", "root_port", TypeSTPRootPort)
	for _, f := range []string{"root_mac", "bridge_mac", "node_mac"} {
		c.mustRule("stp", f, TypeMAC)
	}
	return c
}

// ZyxelSTP is STP with the Zyxel root port encoding.
func ZyxelSTP() *Chain {
	return STP().mustRule("stp", "root_port", TypeZyxelRootPort)
}

type TrimConverter struct{}

func (TrimConverter) Name() string { return TypeTrim }
func (TrimConverter) Convert(v models.Variable) models.Variable {
	v.Result = strings.TrimSpace(v.Result)
	return v
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// MACConverter keeps the hex digits of a MAC, lowercased. Bridge ids carry a
// 4 digit priority in front which is dropped.
type MACConverter struct{}

func (MACConverter) Name() string { return TypeMAC }
func (MACConverter) Convert(v models.Variable) models.Variable {
	mac := strings.ToLower(nonAlnum.ReplaceAllString(v.Result, ""))
	if len(mac) == 16 {
		mac = mac[4:]
	}
	v.Result = mac
	return v
}

// STPRootPortConverter restricts follow-up requests when the device is root.
type STPRootPortConverter struct{}

func (STPRootPortConverter) Name() string { return TypeSTPRootPort }
func (STPRootPortConverter) Convert(v models.Variable) models.Variable {
	if v.Result == "0" || v.Result == "" {
		v.Action = models.ActionRestrict
		v.Result = "0"
	}
	return v
}

// ZyxelRootPortConverter decodes the priority bit Zyxel adds to port numbers.
type ZyxelRootPortConverter struct{}

func (ZyxelRootPortConverter) Name() string { return TypeZyxelRootPort }
func (ZyxelRootPortConverter) Convert(v models.Variable) models.Variable {
	port, err := strconv.Atoi(strings.TrimSpace(v.Result))
	if err != nil {
		v.Action = models.ActionRestrict
		v.Status = models.StatusException
		v.Message = fmt.Sprintf("Can't parse port number to integer. Port number: %s.", v.Result)
		return v
	}
	if port >= 32768 {
		port -= 32768
	}
	switch {
	case port < 0:
		v.Action = models.ActionRestrict
		v.Status = models.StatusException
		v.Message = fmt.Sprintf("Wrong port number. Port number: %d.", port)
		v.Result = strconv.Itoa(port)
	case port == 0:
		v.Action = models.ActionRestrict
		v.Result = "0"
	default:
		v.Result = strconv.Itoa(port)
	}
	return v
}
