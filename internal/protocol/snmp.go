package protocol

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/transport"
	"github.com/andrej220/devbackup/internal/variables"
	"github.com/andrej220/devbackup/pkg/models"
	"github.com/gosnmp/gosnmp"
)

// SNMPDriver runs GET and SET jobs, one OID per request.
type SNMPDriver struct {
	profile Profile
	params  Params
	creds   SessionCredentials
	dial    transport.SNMPDialer
}

type SNMPOption func(*SNMPDriver)

func WithSNMPDialer(d transport.SNMPDialer) SNMPOption {
	return func(s *SNMPDriver) { s.dial = d }
}

func NewSNMPDriver(profile Profile, p Params, opts ...SNMPOption) (*SNMPDriver, error) {
	if err := p.Settings.ValidateSNMP(); err != nil {
		return nil, err
	}
	creds, err := profile.Resolve(models.ProtocolSNMP, p.Credentials)
	if err != nil {
		return nil, err
	}
	if _, err := transport.ParseSNMPVersion(creds.SNMPVersion); err != nil {
		return nil, err
	}
	for _, j := range p.Jobs {
		if j.IsSet() && creds.WriteCommunity == "" {
			return nil, fmt.Errorf("%w: SNMP set community is not set", models.ErrValidation)
		}
	}
	s := &SNMPDriver{profile: profile, params: p, creds: creds, dial: transport.DialSNMP}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SNMPDriver) Execute(ctx context.Context) (models.ProtocolResult, error) {
	result := models.NewProtocolResult()
	log := s.params.logger()
	task := s.params.Coords.TaskName

	client, err := s.dial(ctx, transport.SNMPConfig{
		Target:    s.params.Coords.NodeIP,
		Port:      s.creds.Port,
		Community: s.creds.ReadCommunity,
		Version:   s.creds.SNMPVersion,
		Timeout:   s.params.Settings.SNMPTimeout,
		Retries:   s.params.Settings.SNMPRetries,
	})
	if err != nil {
		return result, fmt.Errorf("%w: can't create SNMP session: %v", models.ErrProtocol, err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			log.Debug("can't close SNMP session", lg.Err(cerr))
		}
	}()

	store := s.params.Vars
	if store == nil {
		store = variables.NewStore()
	}
	for _, j := range s.params.Jobs {
		if j.SaveRequired() {
			result.Data[j.TableField] = ""
		}
		if j.PutVarRequired() {
			store.Declare(j.Variable)
		}
	}

	for _, j := range s.params.Jobs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if j.IsSet() && j.SetValue == "" {
			return result, fmt.Errorf("%w: job %s: empty snmpset() value", models.ErrValidation, j.Key)
		}

		var value string
		res := store.Inject(j.Command, variables.ControlSequences{})
		switch res.Status {
		case variables.Skip:
			log.Debug("job skipped by restricted variable", lg.String("job", j.Key))
		case variables.OK:
			value, err = s.request(client, j, res.Command)
			if err != nil {
				return result, fmt.Errorf("job %s: %w", j.Key, err)
			}
		default:
			return result, fmt.Errorf("job %s: %w", j.Key, res.Err)
		}

		if !j.SaveRequired() && !j.PutVarRequired() {
			continue
		}
		converted := s.profile.Convert(task, j.TableField, j.Variable, value)
		if j.SaveRequired() {
			result.Data[j.TableField] = converted.Result
		}
		if j.PutVarRequired() {
			converted.Name = j.Variable
			store.Set(j.Variable, converted)
		}
	}
	result.Success = true
	return result, nil
}

func (s *SNMPDriver) request(client transport.SNMPClient, j models.Job, oid string) (string, error) {
	oid = strings.TrimSpace(oid)
	if !models.IsOID(oid) {
		return "", fmt.Errorf("%w: %s can't convert to SNMP OID", models.ErrValidation, oid)
	}
	if j.Timeout > 0 && j.Timeout != s.params.Settings.SNMPTimeout {
		client.SetTimeout(j.Timeout)
		defer client.SetTimeout(s.params.Settings.SNMPTimeout)
	}

	var (
		packet *gosnmp.SnmpPacket
		err    error
	)
	if j.IsSet() {
		pdu, perr := setPDU(oid, j.SetValueType, j.SetValue)
		if perr != nil {
			return "", perr
		}
		client.SetCommunity(s.creds.WriteCommunity)
		packet, err = client.Set([]gosnmp.SnmpPDU{pdu})
		client.SetCommunity(s.creds.ReadCommunity)
	} else {
		packet, err = client.Get([]string{oid})
	}
	if err != nil {
		return "", fmt.Errorf("%w: agent timeout. Node offline or wrong community: %v", models.ErrProtocol, err)
	}
	return singleValue(packet)
}

// singleValue accepts exactly one non-exception binding.
func singleValue(packet *gosnmp.SnmpPacket) (string, error) {
	if packet == nil {
		return "", fmt.Errorf("%w: empty response PDU. Node offline or wrong community", models.ErrProtocol)
	}
	if packet.Error != gosnmp.NoError {
		return "", fmt.Errorf("%w: SNMP request error - %s", models.ErrProtocol, packet.Error)
	}
	if len(packet.Variables) != 1 {
		return "", fmt.Errorf("%w: expected one variable binding, got %d", models.ErrProtocol, len(packet.Variables))
	}
	vb := packet.Variables[0]
	if isException(vb) {
		return "", fmt.Errorf("%w: SNMP variable binding exception - %s %s", models.ErrProtocol, vb.Name, vb.Type)
	}
	return FormatValue(vb), nil
}

func setPDU(oid string, typ models.SetValueType, value string) (gosnmp.SnmpPDU, error) {
	pdu := gosnmp.SnmpPDU{Name: oid}
	bad := func(err error) (gosnmp.SnmpPDU, error) {
		return pdu, fmt.Errorf("%w: %s - can't convert snmpset() value %q to %s: %v", models.ErrValidation, oid, value, typ, err)
	}
	switch typ {
	case models.SetOctetString:
		pdu.Type, pdu.Value = gosnmp.OctetString, []byte(value)
	case models.SetHexString:
		b, err := hex.DecodeString(strings.NewReplacer(":", "", " ", "", "-", "").Replace(value))
		if err != nil {
			return bad(err)
		}
		pdu.Type, pdu.Value = gosnmp.OctetString, b
	case models.SetInt:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return bad(err)
		}
		pdu.Type, pdu.Value = gosnmp.Integer, int(n)
	case models.SetUint:
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return bad(err)
		}
		pdu.Type, pdu.Value = gosnmp.Uinteger32, uint32(n)
	case models.SetNull:
		pdu.Type = gosnmp.Null
	case models.SetIPAddress:
		ip := net.ParseIP(strings.TrimSpace(value))
		if ip == nil || ip.To4() == nil {
			return bad(fmt.Errorf("not an IPv4 address"))
		}
		pdu.Type, pdu.Value = gosnmp.IPAddress, ip.To4().String()
	default:
		return pdu, fmt.Errorf("%w: %s - unknown snmpset() value type %q", models.ErrValidation, oid, typ)
	}
	return pdu, nil
}
