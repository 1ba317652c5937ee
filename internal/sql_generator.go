package internal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/filecrate/crate"
)

// SQLGenerator renders derived schemas into PostgreSQL DDL and DML. All
// identifiers pass through pq.QuoteIdentifier so sanitized-but-hostile field
// names can never break out of their position.
type SQLGenerator struct{}

// NewSQLGenerator constructs a SQLGenerator.
func NewSQLGenerator() *SQLGenerator {
	return &SQLGenerator{}
}

// CreateTable renders CREATE TABLE IF NOT EXISTS for one table definition.
func (g *SQLGenerator) CreateTable(table *crate.TableDef) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pq.QuoteIdentifier(table.Name))
	b.WriteString(" (")

	for i, col := range table.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pq.QuoteIdentifier(col.Name))
		b.WriteByte(' ')
		b.WriteString(col.SQLType)
		switch {
		case col.IsPrimaryKey:
			b.WriteString(" PRIMARY KEY")
		case col.IsForeignKey:
			fmt.Fprintf(&b, " NOT NULL REFERENCES %s(%s)",
				pq.QuoteIdentifier(col.ReferencesTable), pq.QuoteIdentifier(crate.ColumnID))
		case !col.Nullable && col.SQLType != crate.SQLTypeTimestamp:
			b.WriteString(" NOT NULL")
		}
		if col.SQLType == crate.SQLTypeTimestamp && col.SourceField == "" {
			b.WriteString(" DEFAULT now()")
		}
	}
	b.WriteString(")")
	return b.String()
}

// DropTable renders DROP TABLE IF EXISTS. Child tables must be dropped
// before their parent because of the foreign key.
func (g *SQLGenerator) DropTable(tableName string) string {
	return "DROP TABLE IF EXISTS " + pq.QuoteIdentifier(tableName)
}

// TruncateTable renders a TRUNCATE cascading into child tables.
func (g *SQLGenerator) TruncateTable(tableName string) string {
	return "TRUNCATE TABLE " + pq.QuoteIdentifier(tableName) + " CASCADE"
}

// InsertReturningID renders a single-row INSERT for the table's data columns
// with RETURNING on the primary key, plus the ordered argument list for one
// document.
func (g *SQLGenerator) InsertReturningID(table *crate.TableDef, doc map[string]any) (string, []any) {
	columns := table.DataColumns()
	names := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))

	for i, col := range columns {
		names = append(names, pq.QuoteIdentifier(col.Name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, ColumnValue(col, doc))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		pq.QuoteIdentifier(table.Name),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		pq.QuoteIdentifier(crate.ColumnID))
	return query, args
}

// InsertChildRow renders a single-row INSERT into a child table carrying the
// parent's generated primary key.
func (g *SQLGenerator) InsertChildRow(table *crate.TableDef, parentID int64, nested map[string]any) (string, []any) {
	fk := table.ForeignKey()
	columns := table.DataColumns()

	names := []string{pq.QuoteIdentifier(fk.Name)}
	placeholders := []string{"$1"}
	args := []any{parentID}

	for i, col := range columns {
		names = append(names, pq.QuoteIdentifier(col.Name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, ColumnValue(col, nested))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(table.Name),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "))
	return query, args
}

// MultiValueInsert renders one multi-value INSERT statement for a chunk of
// flat rows. Used for bulk loading tables without child linkage.
func (g *SQLGenerator) MultiValueInsert(table *crate.TableDef, docs []map[string]any) (string, []any) {
	columns := table.DataColumns()
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, pq.QuoteIdentifier(col.Name))
	}

	var values strings.Builder
	args := make([]any, 0, len(docs)*len(columns))
	param := 1
	for i, doc := range docs {
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteByte('(')
		for j, col := range columns {
			if j > 0 {
				values.WriteString(", ")
			}
			fmt.Fprintf(&values, "$%d", param)
			param++
			args = append(args, ColumnValue(col, doc))
		}
		values.WriteByte(')')
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		pq.QuoteIdentifier(table.Name),
		strings.Join(names, ", "),
		values.String())
	return query, args
}

// InsertPrimitiveValues renders a multi-value INSERT for the single-column
// layout produced when a primitive array is uploaded: one row per element.
func (g *SQLGenerator) InsertPrimitiveValues(table *crate.TableDef, items []any) (string, []any) {
	columns := table.DataColumns()
	col := columns[0]

	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items))
	for i, item := range items {
		placeholders = append(placeholders, fmt.Sprintf("($%d)", i+1))
		args = append(args, convertValue(col.SQLType, item))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		pq.QuoteIdentifier(table.Name),
		pq.QuoteIdentifier(col.Name),
		strings.Join(placeholders, ", "))
	return query, args
}

// ColumnValue extracts and converts a document field for its column. Missing
// fields become NULL; container values serialize to JSON text for JSONB
// columns.
func ColumnValue(col crate.ColumnDef, doc map[string]any) any {
	value, present := doc[col.SourceField]
	if !present {
		return nil
	}
	return convertValue(col.SQLType, value)
}

// convertValue adapts a raw JSON value to the driver-level representation
// for a column type.
func convertValue(sqlType string, value any) any {
	if value == nil {
		return nil
	}

	switch sqlType {
	case crate.SQLTypeJSONB:
		serialized, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		return string(serialized)
	case crate.SQLTypeText:
		switch v := value.(type) {
		case string:
			return v
		default:
			// Mixed-type columns degrade to TEXT; non-strings render
			// through their JSON form.
			serialized, err := json.Marshal(v)
			if err != nil {
				return nil
			}
			return string(serialized)
		}
	case crate.SQLTypeNumeric:
		if n, ok := value.(json.Number); ok {
			return n.String()
		}
		return value
	default:
		return value
	}
}
