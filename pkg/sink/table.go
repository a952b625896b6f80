package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/logging"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// DefaultTable is the table updates are inserted into
const DefaultTable = "updates"

// communitiesSeparator joins community tags in table rows
const communitiesSeparator = ", "

// maxBindParams is the PostgreSQL limit of bind parameters per statement
const maxBindParams = 65535

// TableSink inserts buffered updates into a relational table.
//
// Every flush runs in its own transaction, so batches flushed before a
// failure stay committed. The table must exist, see EnsureTable.
type TableSink struct {
	*buffer
	db     *sql.DB
	table  string
	prefix string
	log    *logrus.Entry
}

// NewTableSink creates a sink inserting into table through db. The database
// handle is shared and not closed by the sink.
func NewTableSink(db *sql.DB, table string, capacity int, log *logrus.Entry) *TableSink {
	if table == "" {
		table = DefaultTable
	}
	ident := quoteTable(table)
	s := &TableSink{
		db:     db,
		table:  ident,
		prefix: fmt.Sprintf("INSERT INTO %s (%s) VALUES ", ident, strings.Join(models.FieldNames(), ", ")),
		log:    logging.OrDefault(log).WithField("target", table),
	}
	s.buffer = newBuffer(KindTable, capacity, s.writeRows)
	return s
}

// Target returns the quoted table name
func (s *TableSink) Target() string {
	return s.table
}

// Close is a no-op, the database handle is shared
func (s *TableSink) Close(ctx context.Context) error {
	return nil
}

func (s *TableSink) writeRows(ctx context.Context, rows []*models.Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	perStatement := maxBindParams / len(models.UpdateFields)
	for start := 0; start < len(rows); start += perStatement {
		end := min(start+perStatement, len(rows))
		query, args := s.insertStatement(rows[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert rows into %s: %w", s.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert into %s: %w", s.table, err)
	}

	s.log.WithField("rows", len(rows)).Info("rows inserted")
	return nil
}

// insertStatement builds a multi-row parameterized INSERT for rows
func (s *TableSink) insertStatement(rows []*models.Update) (string, []any) {
	ncols := len(models.UpdateFields)
	args := make([]any, 0, len(rows)*ncols)

	var sb strings.Builder
	sb.WriteString(s.prefix)
	for i, u := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j := 0; j < ncols; j++ {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(i*ncols + j + 1))
		}
		sb.WriteByte(')')
		args = append(args, models.Values(u, models.UpdateFields, communitiesSeparator)...)
	}

	return sb.String(), args
}

// quoteTable quotes a table name that may be schema qualified
func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

// CreateTableStatement returns the CREATE TABLE statement for table
func CreateTableStatement(table string) string {
	cols := make([]string, len(models.UpdateFields))
	for i, f := range models.UpdateFields {
		col := f.Name + " " + f.SQLType
		if f.Required {
			col += " NOT NULL"
		}
		cols[i] = col
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteTable(table), strings.Join(cols, ", "))
}

// EnsureTable creates table when it does not exist yet. It reports whether
// the table was created.
func EnsureTable(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var (
		exists bool
		err    error
	)
	parts := strings.Split(table, ".")
	if len(parts) == 2 {
		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = $1 AND tablename = $2)",
			parts[0], parts[1]).Scan(&exists)
	} else {
		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)",
			table).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	if exists {
		return false, nil
	}

	if _, err := db.ExecContext(ctx, CreateTableStatement(table)); err != nil {
		return false, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return true, nil
}

// OpenDB opens a PostgreSQL connection pool through the pgx driver and checks
// it is reachable.
func OpenDB(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// TableFactory creates table sinks sharing one database handle.
type TableFactory struct {
	DB       *sql.DB
	Table    string
	Capacity int
	Log      *logrus.Entry
}

// Prepare checks the table exists and creates it otherwise
func (f *TableFactory) Prepare(ctx context.Context) error {
	table := f.table()
	created, err := EnsureTable(ctx, f.DB, table)
	if err != nil {
		return err
	}

	log := logging.OrDefault(f.Log).WithField("table", table)
	if created {
		log.Info("table created")
	} else {
		log.Info("table already exists")
	}
	return nil
}

// New returns a sink inserting into the shared table
func (f *TableFactory) New(r models.TimeRange) (Sink, error) {
	return NewTableSink(f.DB, f.table(), f.Capacity, f.Log), nil
}

// Kind returns KindTable
func (f *TableFactory) Kind() string {
	return KindTable
}

func (f *TableFactory) table() string {
	if f.Table == "" {
		return DefaultTable
	}
	return f.Table
}
