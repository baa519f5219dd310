package cmd

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"tableqa/internal/schema"
)

func TestGroupSchema(t *testing.T) {
	sc := schema.New([]schema.Column{
		{Table: "trips", Name: "station", DataType: "VARCHAR"},
		{Table: "trips", Name: "age", DataType: "BIGINT"},
		{Table: "stations", Name: "id", DataType: "INTEGER"},
	})
	want := []SchemaOutput{
		{TableName: "trips", ColumnCount: 2, Columns: []ColumnInfo{{Name: "station", Type: "VARCHAR"}, {Name: "age", Type: "BIGINT"}}},
		{TableName: "stations", ColumnCount: 1, Columns: []ColumnInfo{{Name: "id", Type: "INTEGER"}}},
	}
	if diff := cmp.Diff(want, groupSchema(sc)); diff != "" {
		t.Fatalf("groupSchema() mismatch (-want +got):\n%s", diff)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"abc":         "****",
		"sk-ant-1234": "********1234",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("TABLEQA_MAX_ATTEMPTS", "3")
	t.Setenv("TABLEQA_BACKEND", "vertex")
	if err := rootCmd.PersistentFlags().Parse([]string{"--max-attempts", "5", "--backend", "anthropic", "-d", "/tmp/tq"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	t.Cleanup(func() {
		for _, name := range []string{"max-attempts", "backend", "data-dir"} {
			f := rootCmd.PersistentFlags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})

	got, err := loadConfig(rootCmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got.Repair.MaxAttempts != 5 || got.Backend != "anthropic" || got.DataDir != "/tmp/tq" {
		t.Fatalf("loadConfig() = attempts %d backend %s dir %s", got.Repair.MaxAttempts, got.Backend, got.DataDir)
	}
}
