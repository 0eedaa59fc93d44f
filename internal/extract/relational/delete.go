package relational

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/datasnap-cloud/bridge/internal/mapping"
)

// DeleteUploaded performs the post-upload deletion: a single delete against
// the source scoped by "WHERE {delete_safety.where_column} IN
// (:values_just_uploaded)". The hard precondition — delete_safety.enabled
// must be true — is enforced by the caller, and re-checked here.
func DeleteUploaded(ctx context.Context, db DB, m mapping.Mapping, values []any) error {
	if !m.Transfer.DeleteAfterUpload || !m.Transfer.DeleteSafety.Enabled {
		return fmt.Errorf("delete_after_upload refused: delete_safety.enabled is false")
	}
	if len(values) == 0 {
		return nil
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (?)", m.Table, m.Transfer.DeleteSafety.WhereColumn)
	query, args, err := sqlx.In(query, values)
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	query = sqlx.Rebind(sqlx.BindType(driverNameFor(m)), query)

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete uploaded rows: %w", err)
	}
	return nil
}

func driverNameFor(m mapping.Mapping) string {
	if m.Source.Kind == mapping.SourcePostgres {
		return "postgres"
	}
	return "mysql"
}
