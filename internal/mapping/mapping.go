// Package mapping implements the Mapping data model: the immutable,
// per-run description of one source table or log file and the remote
// schema slug it feeds.
package mapping

import (
	"context"
	"fmt"
)

// SourceKind is the closed variant over source types, modeled as a tagged
// enum rather than open inheritance.
type SourceKind string

const (
	SourceMySQL    SourceKind = "mysql"
	SourcePostgres SourceKind = "postgres"
	SourceLogFile  SourceKind = "log_file"
)

// SSLMode is the tri-state TLS posture for relational sources.
// Customer-premises databases are frequently fronted by self-signed TLS,
// and both pgx and go-sql-driver/mysql take this as a first-class DSN
// parameter.
type SSLMode string

const (
	SSLDisable    SSLMode = "disable"
	SSLRequire    SSLMode = "require"
	SSLVerifyFull SSLMode = "verify-full"
)

// Source is the variant over {relational, log_file}. Credentials are
// resolved at run start via SecretResolver; the resolved plaintext lives
// only for the duration of the run.
type Source struct {
	Kind SourceKind `json:"kind"`

	// relational fields
	Host      string  `json:"host,omitempty"`
	Port      int     `json:"port,omitempty"`
	DB        string  `json:"db,omitempty"`
	User      string  `json:"user,omitempty"`
	SecretRef string  `json:"secret_ref,omitempty"`
	SSLMode   SSLMode `json:"ssl_mode,omitempty"`

	// log_file fields
	Path        string `json:"path,omitempty"`
	MaxMemoryMB int    `json:"max_memory_mb,omitempty"`
}

func (s Source) IsRelational() bool {
	return s.Kind == SourceMySQL || s.Kind == SourcePostgres
}

// IncrementalMode is the extraction strategy for a relational mapping.
type IncrementalMode string

const (
	ModeFull                 IncrementalMode = "full"
	ModeIncrementalPK        IncrementalMode = "incremental_pk"
	ModeIncrementalTimestamp IncrementalMode = "incremental_timestamp"
)

// DeleteSafety gates the delete_after_upload feature: the engine refuses to
// delete unless Enabled is explicitly true.
type DeleteSafety struct {
	Enabled     bool   `json:"enabled"`
	WhereColumn string `json:"where_column,omitempty"`
}

// TransferParams are the per-mapping transfer parameters.
type TransferParams struct {
	BatchSize             int             `json:"batch_size"`
	MaxFileSizeMB         int             `json:"max_file_size_mb"`
	RetryAttempts         int             `json:"retry_attempts"`
	MinRecordsForUpload   int             `json:"min_records_for_upload"`
	IncrementalMode       IncrementalMode `json:"incremental_mode"`
	OrderBy               string          `json:"order_by,omitempty"`
	DeleteAfterUpload     bool            `json:"delete_after_upload"`
	DeleteSafety          DeleteSafety    `json:"delete_safety"`
	ConnectTimeoutSeconds int             `json:"connect_timeout_seconds,omitempty"`
}

// defaultBatchSize resolves a configuration ambiguity seen between sample
// deployments (10000 vs 5000 default); bridge picks 5000 explicitly rather
// than silently diverging between mappings.
const defaultBatchSize = 5000

const defaultConnectTimeoutSeconds = 10

// Mapping is the immutable per-run description of one source-to-schema
// transfer.
type Mapping struct {
	ID               string         `json:"id"`
	Name             string         `json:"name,omitempty"`
	Source           Source         `json:"source"`
	TargetSchemaSlug string         `json:"target_schema_slug"`
	Query            string         `json:"query,omitempty"`
	Table            string         `json:"table,omitempty"`
	PrimaryKey       string         `json:"primary_key,omitempty"`
	TimestampColumn  string         `json:"timestamp_column,omitempty"`
	Transfer         TransferParams `json:"transfer"`
}

// applyDefaults fills in zero-valued optional fields the way a
// configuration loader with "unknown fields ignored, missing required
// fields cause a configuration error" semantics must.
func (m *Mapping) applyDefaults() {
	if m.Transfer.BatchSize == 0 {
		m.Transfer.BatchSize = defaultBatchSize
	}
	if m.Transfer.RetryAttempts == 0 {
		m.Transfer.RetryAttempts = 3
	}
	if m.Transfer.ConnectTimeoutSeconds == 0 {
		m.Transfer.ConnectTimeoutSeconds = defaultConnectTimeoutSeconds
	}
	if m.Source.IsRelational() && m.Source.SSLMode == "" {
		m.Source.SSLMode = SSLDisable
	}
}

// Validate implements the well-formedness check: exactly one of query or
// table is set for relational sources, batch_size >= 1, and incremental_pk
// mappings name a primary key.
func (m *Mapping) Validate() error {
	m.applyDefaults()

	if m.ID == "" {
		return fmt.Errorf("mapping: id is required")
	}
	if m.TargetSchemaSlug == "" {
		return fmt.Errorf("mapping %s: target_schema_slug is required", m.ID)
	}

	if m.Transfer.BatchSize < 1 {
		return fmt.Errorf("mapping %s: batch_size must be >= 1", m.ID)
	}

	if m.Source.Kind == SourceLogFile {
		// Log-file sources watermark on byte offset, not on
		// query/table/incremental_mode, which only apply to relational
		// sources.
		if m.Query != "" || m.Table != "" {
			return fmt.Errorf("mapping %s: log_file source must not set query or table", m.ID)
		}
	} else {
		hasQuery := m.Query != ""
		hasTable := m.Table != ""
		if hasQuery == hasTable {
			return fmt.Errorf("mapping %s: exactly one of query or table must be set", m.ID)
		}

		switch m.Transfer.IncrementalMode {
		case ModeFull, ModeIncrementalTimestamp:
		case ModeIncrementalPK:
			if m.PrimaryKey == "" {
				return fmt.Errorf("mapping %s: primary_key is required for incremental_pk", m.ID)
			}
		case "":
			return fmt.Errorf("mapping %s: incremental_mode is required", m.ID)
		default:
			return fmt.Errorf("mapping %s: unknown incremental_mode %q", m.ID, m.Transfer.IncrementalMode)
		}
	}

	if m.Transfer.DeleteAfterUpload && !m.Transfer.DeleteSafety.Enabled {
		return fmt.Errorf("mapping %s: delete_after_upload requires delete_safety.enabled", m.ID)
	}

	switch m.Source.Kind {
	case SourceMySQL, SourcePostgres:
		if m.Source.Host == "" || m.Source.DB == "" {
			return fmt.Errorf("mapping %s: relational source requires host and db", m.ID)
		}
		if m.Source.SecretRef == "" {
			return fmt.Errorf("mapping %s: relational source requires secret_ref", m.ID)
		}
	case SourceLogFile:
		if m.Source.Path == "" {
			return fmt.Errorf("mapping %s: log_file source requires path", m.ID)
		}
	default:
		return fmt.Errorf("mapping %s: unknown source kind %q", m.ID, m.Source.Kind)
	}

	return nil
}

// SecretResolver resolves a secret_ref to plaintext credentials. The
// encrypted local credential store that implements this is out of scope;
// the core only consumes this interface.
type SecretResolver interface {
	Resolve(ctx context.Context, secretRef string) (string, error)
}
