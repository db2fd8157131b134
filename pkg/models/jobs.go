package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type RequestType string

const (
	RequestGet RequestType = "get"
	RequestSet RequestType = "set"
)

type SetValueType string

const (
	SetOctetString SetValueType = "octet_string"
	SetHexString   SetValueType = "hex_string"
	SetInt         SetValueType = "int"
	SetUint        SetValueType = "uint"
	SetNull        SetValueType = "null"
	SetIPAddress   SetValueType = "ip_address"
)

var setValueTypes = map[SetValueType]struct{}{
	SetOctetString: {}, SetHexString: {}, SetInt: {}, SetUint: {}, SetNull: {}, SetIPAddress: {},
}

// Job is one command or OID template of a device's batch.
type Job struct {
	Key          string        `json:"key" validate:"required"`
	Command      string        `json:"command_value"`
	TableField   string        `json:"table_field,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	Variable     string        `json:"command_var,omitempty"`
	CustomPrompt string        `json:"cli_custom_prompt,omitempty"`

	Request      RequestType  `json:"snmp_request_type,omitempty" validate:"omitempty,oneof=get set"`
	SetValue     string       `json:"snmp_set_value,omitempty"`
	SetValueType SetValueType `json:"snmp_set_value_type,omitempty" validate:"omitempty,snmptype"`
}

func (j Job) SaveRequired() bool   { return j.TableField != "" }
func (j Job) PutVarRequired() bool { return j.Variable != "" }
func (j Job) IsSet() bool          { return j.Request == RequestSet }

// ParseJobs converts the backend's key → job-field map into a job list in
// key order.
func ParseJobs(raw map[string]map[string]string) ([]Job, error) {
	jobs := make([]Job, 0, len(raw))
	for _, key := range SortedKeys(raw) {
		info := raw[key]
		j := Job{
			Key:          key,
			Command:      info["command_value"],
			TableField:   info["table_field"],
			Variable:     info["command_var"],
			CustomPrompt: info["cli_custom_prompt"],
			Request:      RequestType(strings.ToLower(strings.TrimSpace(info["snmp_request_type"]))),
			SetValue:     info["snmp_set_value"],
			SetValueType: SetValueType(strings.TrimSpace(info["snmp_set_value_type"])),
		}
		if t := strings.TrimSpace(info["timeout"]); t != "" {
			ms, err := strconv.Atoi(t)
			if err != nil {
				return nil, fmt.Errorf("%w: job %s: can't parse timeout %q to integer", ErrParse, key, t)
			}
			j.Timeout = time.Duration(ms) * time.Millisecond
		}
		if err := validateStruct(j); err != nil {
			return nil, fmt.Errorf("job %s: %w", key, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
