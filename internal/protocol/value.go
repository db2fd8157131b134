package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gosnmp/gosnmp"
)

// isException reports the v2c varbind exceptions.
func isException(pdu gosnmp.SnmpPDU) bool {
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		return true
	}
	return false
}

// FormatValue renders a varbind value as text: printable strings as-is,
// binary strings as colon separated hex, numbers in decimal.
func FormatValue(pdu gosnmp.SnmpPDU) string {
	switch pdu.Type {
	case gosnmp.OctetString, gosnmp.Opaque:
		b, _ := pdu.Value.([]byte)
		if pdu.Type == gosnmp.OctetString && printable(b) {
			return string(b)
		}
		return hexString(b)
	case gosnmp.ObjectIdentifier:
		s, _ := pdu.Value.(string)
		return strings.TrimPrefix(s, ".")
	case gosnmp.IPAddress:
		s, _ := pdu.Value.(string)
		return s
	case gosnmp.TimeTicks:
		return timeTicks(gosnmp.ToBigInt(pdu.Value).Uint64())
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.Counter64, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).String()
	case gosnmp.Null:
		return ""
	default:
		if pdu.Value == nil {
			return ""
		}
		return fmt.Sprint(pdu.Value)
	}
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if (c < 0x20 && c != '\t' && c != '\n' && c != '\r') || c == 0x7f {
			return false
		}
	}
	return true
}

func hexString(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, ":")
}

// timeTicks formats hundredths of a second as "3 days, 4:05:06.07".
func timeTicks(t uint64) string {
	hs := t % 100
	s := t / 100
	days, s := s/86400, s%86400
	h, s := s/3600, s%3600
	m, s := s/60, s%60
	out := fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, hs)
	switch {
	case days == 1:
		return "1 day, " + out
	case days > 1:
		return fmt.Sprintf("%d days, %s", days, out)
	}
	return out
}
