package export

import (
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// AuditColumns are the columns every audit file carries.
var AuditColumns = []string{"item_id", "src_path", "dst_path", "status", "existing", "errors"}

// ValidateSchema checks that schema contains every audit column.
func ValidateSchema(schema *parquet.Schema) error {
	columns := make(map[string]bool)
	for _, field := range schema.Fields() {
		columns[strings.ToLower(field.Name())] = true
	}

	var missing []string
	for _, col := range AuditColumns {
		if !columns[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing audit columns: %s", strings.Join(missing, ", "))
	}
	return nil
}
