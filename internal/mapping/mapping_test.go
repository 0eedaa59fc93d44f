package mapping

import "testing"

func validRelational() Mapping {
	return Mapping{
		ID:               "orders",
		TargetSchemaSlug: "orders_v1",
		Table:            "orders",
		Source: Source{
			Kind:      SourceMySQL,
			Host:      "db.internal",
			DB:        "shop",
			SecretRef: "ORDERS_DB_PASSWORD",
		},
		Transfer: TransferParams{
			IncrementalMode: ModeFull,
		},
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	m := validRelational()
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Transfer.BatchSize != defaultBatchSize {
		t.Errorf("BatchSize = %d, want default %d", m.Transfer.BatchSize, defaultBatchSize)
	}
	if m.Transfer.ConnectTimeoutSeconds != defaultConnectTimeoutSeconds {
		t.Errorf("ConnectTimeoutSeconds = %d, want default %d", m.Transfer.ConnectTimeoutSeconds, defaultConnectTimeoutSeconds)
	}
	if m.Source.SSLMode != SSLDisable {
		t.Errorf("SSLMode = %q, want default disable", m.Source.SSLMode)
	}
}

func TestValidateRejectsMissingID(t *testing.T) {
	m := validRelational()
	m.ID = ""
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestValidateRequiresExactlyOneOfQueryOrTable(t *testing.T) {
	m := validRelational()
	m.Query = "SELECT * FROM orders"
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error when both query and table are set")
	}

	m2 := validRelational()
	m2.Table = ""
	if err := m2.Validate(); err == nil {
		t.Fatalf("expected error when neither query nor table is set")
	}
}

func TestValidateIncrementalPKRequiresPrimaryKey(t *testing.T) {
	m := validRelational()
	m.Transfer.IncrementalMode = ModeIncrementalPK
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for missing primary_key")
	}

	m.PrimaryKey = "id"
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected error once primary_key is set: %v", err)
	}
}

func TestValidateLogFileRejectsQueryAndTable(t *testing.T) {
	m := Mapping{
		ID:               "app-log",
		TargetSchemaSlug: "app_log_v1",
		Source:           Source{Kind: SourceLogFile, Path: "/var/log/app.log"},
		Query:            "SELECT 1",
	}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for log_file source with query set")
	}
}

func TestValidateDeleteAfterUploadRequiresSafetyEnabled(t *testing.T) {
	m := validRelational()
	m.Transfer.DeleteAfterUpload = true
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error when delete_safety.enabled is false")
	}

	m.Transfer.DeleteSafety.Enabled = true
	m.Transfer.DeleteSafety.WhereColumn = "id"
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected error once delete_safety is enabled: %v", err)
	}
}

func TestValidateRelationalRequiresHostDBAndSecret(t *testing.T) {
	m := validRelational()
	m.Source.Host = ""
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for missing host")
	}

	m = validRelational()
	m.Source.DB = ""
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for missing db")
	}

	m = validRelational()
	m.Source.SecretRef = ""
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for missing secret_ref")
	}
}

func TestValidateUnknownSourceKind(t *testing.T) {
	m := validRelational()
	m.Source.Kind = SourceKind("ftp")
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for unknown source kind")
	}
}
