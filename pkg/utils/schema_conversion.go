package utils

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// UpdateSchema returns the Arrow schema of persisted updates, in column order
func UpdateSchema() *arrow.Schema {
	fields := make([]arrow.Field, len(models.UpdateFields))
	for i, f := range models.UpdateFields {
		fields[i] = arrow.Field{
			Name:     f.Name,
			Type:     fieldToArrowType(f),
			Nullable: !f.Required,
		}
	}
	return arrow.NewSchema(fields, nil)
}

// fieldToArrowType maps a column's SQL type to an Arrow data type
func fieldToArrowType(f models.Field) arrow.DataType {
	switch {
	case f.SQLType == "DOUBLE PRECISION":
		return arrow.PrimitiveTypes.Float64
	case f.SQLType == "BIGINT":
		return arrow.PrimitiveTypes.Int64
	default:
		return arrow.BinaryTypes.String
	}
}

// SchemaToString returns a string representation of an Arrow schema
func SchemaToString(schema *arrow.Schema) string {
	if schema == nil {
		return "nil schema"
	}

	var sb strings.Builder
	sb.WriteString("Schema:\n")
	for i, field := range schema.Fields() {
		fmt.Fprintf(&sb, "  Field %d: %s (%s, nullable=%t)\n",
			i, field.Name, field.Type.String(), field.Nullable)
	}
	return sb.String()
}

// UpdatesToRecord builds an Arrow record with UpdateSchema from updates.
// The caller owns the returned record and must release it.
func UpdatesToRecord(mem memory.Allocator, schema *arrow.Schema, updates []*models.Update) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for _, u := range updates {
		values := models.Values(u, models.UpdateFields, "")
		for i, v := range values {
			switch fb := b.Field(i).(type) {
			case *array.StringBuilder:
				if v == nil {
					fb.AppendNull()
				} else {
					fb.Append(v.(string))
				}
			case *array.Float64Builder:
				fb.Append(v.(float64))
			case *array.Int64Builder:
				fb.Append(v.(int64))
			}
		}
	}

	return b.NewRecord()
}

// RecordToUpdates decodes the rows of an Arrow record into updates.
//
// Columns are matched by column name or by the collection service's source
// name. Optional columns may be missing. communities may be a list of strings
// or a single space separated string.
func RecordToUpdates(rec arrow.Record) ([]*models.Update, error) {
	schema := rec.Schema()
	cols := make([]arrow.Array, len(models.UpdateFields))
	for i, f := range models.UpdateFields {
		idx := schema.FieldIndices(f.Name)
		if len(idx) == 0 {
			idx = schema.FieldIndices(f.SourceName)
		}
		if len(idx) == 0 {
			if f.Required {
				return nil, fmt.Errorf("record is missing required column %q", f.Name)
			}
			continue
		}
		cols[i] = rec.Column(idx[0])
	}

	n := int(rec.NumRows())
	updates := make([]*models.Update, n)
	for row := 0; row < n; row++ {
		u := &models.Update{}
		for i, f := range models.UpdateFields {
			col := cols[i]
			if col == nil || col.IsNull(row) {
				if f.Required {
					return nil, fmt.Errorf("row %d: required column %q is null", row, f.Name)
				}
				continue
			}
			if err := assignColumn(u, f.Name, col, row); err != nil {
				return nil, fmt.Errorf("row %d: %w", row, err)
			}
		}
		updates[row] = u
	}

	return updates, nil
}

// assignColumn sets the update field named name from col at row
func assignColumn(u *models.Update, name string, col arrow.Array, row int) error {
	switch name {
	case "time":
		v, err := floatValue(col, row)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		u.Time = v
		return nil
	case "peer_asn":
		v, err := intValue(col, row)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		u.PeerASN = v
		return nil
	case "communities":
		v, err := listValue(col, row)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		u.Communities = v
		return nil
	}

	s, ok := col.(*array.String)
	if !ok {
		return fmt.Errorf("column %q: unsupported arrow type %s", name, col.DataType().Name())
	}
	v := s.Value(row)
	switch name {
	case "record_type":
		u.RecordType = v
	case "type":
		u.Type = v
	case "project":
		u.Project = v
	case "collector":
		u.Collector = v
	case "router":
		u.Router = v
	case "router_ip":
		u.RouterIP = v
	case "peer_address":
		u.PeerAddress = v
	case "prefix":
		u.Prefix = v
	case "next_hop":
		u.NextHop = v
	case "as_path":
		u.ASPath = v
	}
	return nil
}

func floatValue(col arrow.Array, row int) (float64, error) {
	switch a := col.(type) {
	case *array.Float64:
		return a.Value(row), nil
	case *array.Float32:
		return float64(a.Value(row)), nil
	case *array.Int64:
		return float64(a.Value(row)), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return models.UnixSeconds(a.Value(row).ToTime(unit)), nil
	}
	return 0, fmt.Errorf("unsupported arrow type %s", col.DataType().Name())
}

func intValue(col arrow.Array, row int) (int64, error) {
	switch a := col.(type) {
	case *array.Int64:
		return a.Value(row), nil
	case *array.Int32:
		return int64(a.Value(row)), nil
	case *array.Uint32:
		return int64(a.Value(row)), nil
	case *array.Uint64:
		return int64(a.Value(row)), nil
	}
	return 0, fmt.Errorf("unsupported arrow type %s", col.DataType().Name())
}

func listValue(col arrow.Array, row int) ([]string, error) {
	switch a := col.(type) {
	case *array.String:
		return strings.Fields(a.Value(row)), nil
	case *array.List:
		values, ok := a.ListValues().(*array.String)
		if !ok {
			return nil, fmt.Errorf("unsupported list element type %s", a.ListValues().DataType().Name())
		}
		start, end := a.ValueOffsets(row)
		out := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			out = append(out, values.Value(int(i)))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported arrow type %s", col.DataType().Name())
}
