package models

import (
	"strings"
)

// Update is a single routing update (announcement or withdrawal) as delivered
// by the collection service.
type Update struct {
	// RecordType is the kind of record the element was read from ("update", "rib")
	RecordType string

	// Type is the element type, e.g. "A" for announcements and "W" for withdrawals
	Type string

	// Time is the unix timestamp of the element in seconds
	Time float64

	Project     string
	Collector   string
	Router      string
	RouterIP    string
	PeerASN     int64
	PeerAddress string

	// Optional fields, empty on withdrawals
	Prefix      string
	NextHop     string
	ASPath      string
	Communities []string
}

// Field returns the value of the update field with the given source name and
// whether it is present. Optional fields report absent when empty.
func (u *Update) Field(name string) (any, bool) {
	switch name {
	case "record_type":
		return u.RecordType, true
	case "type":
		return u.Type, true
	case "time":
		return u.Time, true
	case "project":
		return u.Project, true
	case "collector":
		return u.Collector, true
	case "router":
		return u.Router, true
	case "router_ip":
		return u.RouterIP, true
	case "peer_asn":
		return u.PeerASN, true
	case "peer_address":
		return u.PeerAddress, true
	case "prefix":
		return u.Prefix, u.Prefix != ""
	case "next-hop":
		return u.NextHop, u.NextHop != ""
	case "as-path":
		return u.ASPath, u.ASPath != ""
	case "communities":
		return u.Communities, len(u.Communities) > 0
	}
	return nil, false
}

// Field describes one persisted column of an update.
type Field struct {
	// Name is the column name in files and tables
	Name string

	// SQLType is the column type used when the table is created
	SQLType string

	// SourceName is the name the collection service uses for the field
	SourceName string

	// Required fields are always present; optional ones may be absent
	Required bool

	// JoinSeparator is set for list fields that are stored as a single joined string
	JoinSeparator string
}

// UpdateFields is the persisted column order. It must never be permuted once
// rows exist for a target.
var UpdateFields = []Field{
	{Name: "record_type", SQLType: "VARCHAR(21)", SourceName: "record_type", Required: true},
	{Name: "type", SQLType: "VARCHAR(32)", SourceName: "type", Required: true},
	{Name: "time", SQLType: "DOUBLE PRECISION", SourceName: "time", Required: true},
	{Name: "project", SQLType: "VARCHAR(32)", SourceName: "project", Required: true},
	{Name: "collector", SQLType: "VARCHAR(64)", SourceName: "collector", Required: true},
	{Name: "router", SQLType: "VARCHAR(64)", SourceName: "router", Required: true},
	{Name: "router_ip", SQLType: "VARCHAR(64)", SourceName: "router_ip", Required: true},
	{Name: "peer_asn", SQLType: "BIGINT", SourceName: "peer_asn", Required: true},
	{Name: "peer_address", SQLType: "VARCHAR(64)", SourceName: "peer_address", Required: true},
	{Name: "prefix", SQLType: "VARCHAR(64)", SourceName: "prefix"},
	{Name: "next_hop", SQLType: "VARCHAR(64)", SourceName: "next-hop"},
	{Name: "as_path", SQLType: "VARCHAR(2048)", SourceName: "as-path"},
	{Name: "communities", SQLType: "VARCHAR(2048)", SourceName: "communities", JoinSeparator: " "},
}

// FieldNames returns the column names of UpdateFields in order.
func FieldNames() []string {
	names := make([]string, len(UpdateFields))
	for i, f := range UpdateFields {
		names[i] = f.Name
	}
	return names
}

// Values projects an update onto fields. Absent optional values are nil and
// list values are joined with the field separator, or with sep when it is not
// empty.
func Values(u *Update, fields []Field, sep string) []any {
	values := make([]any, len(fields))
	for i, f := range fields {
		v, ok := u.Field(f.SourceName)
		if !ok && !f.Required {
			continue
		}
		if list, isList := v.([]string); isList {
			joinSep := f.JoinSeparator
			if sep != "" {
				joinSep = sep
			}
			v = strings.Join(list, joinSep)
		}
		values[i] = v
	}
	return values
}
