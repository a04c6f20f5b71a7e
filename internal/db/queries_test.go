package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/model"
	"github.com/hpungsan/tabsynth/internal/synth"
	"github.com/hpungsan/tabsynth/internal/table"
)

// newTestModel creates a model record with default values for testing.
func newTestModel(id string, name string) *model.Model {
	now := time.Now().Unix()
	m := &model.Model{
		ID:         id,
		SourcePath: "/data/adult.csv",
		Rows:       500,
		Columns:    2,
		Width:      14,
		Epochs:     2,
		State:      "converged",
		Config:     synth.DefaultConfig(),
		Schema: table.Schema{Columns: []table.ColumnSpec{
			{Name: "tier", SDType: table.Categorical},
			{Name: "amount", SDType: table.Numerical},
		}},
		Blob: []byte{0x28, 0xb5, 0x2f, 0xfd, 1, 2, 3},
		Losses: []synth.EpochLoss{
			{Epoch: 0, GeneratorLoss: 1.25, DiscriminatorLoss: -0.5},
			{Epoch: 1, GeneratorLoss: 0.75, DiscriminatorLoss: -0.25},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if name != "" {
		norm := model.Normalize(name)
		m.NameRaw = &name
		m.NameNorm = &norm
	}
	return m
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndGetByID(t *testing.T) {
	db := openTestDB(t)

	m := newTestModel("01ABC123", "Adult Census")
	if err := Insert(db, m); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := GetByID(db, "01ABC123")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if *got.NameRaw != "Adult Census" || *got.NameNorm != "adult census" {
		t.Errorf("name = %q/%q", *got.NameRaw, *got.NameNorm)
	}
	if got.Rows != 500 || got.Width != 14 || got.State != "converged" {
		t.Errorf("got %+v", got)
	}
	if string(got.Blob) != string(m.Blob) {
		t.Errorf("blob = %v, want %v", got.Blob, m.Blob)
	}
	if got.Config.Pac != m.Config.Pac || len(got.Config.GeneratorDim) != 2 {
		t.Errorf("config = %+v", got.Config)
	}
	if len(got.Schema.Columns) != 2 || got.Schema.Columns[1].SDType != table.Numerical {
		t.Errorf("schema = %+v", got.Schema)
	}
	if len(got.Losses) != 2 || got.Losses[1].GeneratorLoss != 0.75 {
		t.Errorf("losses = %+v", got.Losses)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := GetByID(db, "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestGetByName(t *testing.T) {
	db := openTestDB(t)

	if err := Insert(db, newTestModel("01A", "Adult")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := GetByName(db, "adult")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got.ID != "01A" {
		t.Errorf("ID = %s, want 01A", got.ID)
	}

	if _, err := GetByName(db, "other"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestInsert_UniqueName(t *testing.T) {
	db := openTestDB(t)

	if err := Insert(db, newTestModel("01A", "Adult")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err := Insert(db, newTestModel("01B", "  ADULT "))
	if err != ErrUniqueConstraint {
		t.Fatalf("err = %v, want ErrUniqueConstraint", err)
	}

	// The failed transaction must not leave losses behind.
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM losses WHERE model_id = '01B'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("orphaned losses = %d", n)
	}

	// Unnamed models never collide.
	if err := Insert(db, newTestModel("01C", "")); err != nil {
		t.Fatalf("Insert unnamed failed: %v", err)
	}
	if err := Insert(db, newTestModel("01D", "")); err != nil {
		t.Fatalf("Insert unnamed failed: %v", err)
	}
}

func TestReplaceByName(t *testing.T) {
	db := openTestDB(t)

	if err := Insert(db, newTestModel("01A", "Adult")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	replaced, err := ReplaceByName(db, newTestModel("01B", "adult"))
	if err != nil {
		t.Fatalf("ReplaceByName failed: %v", err)
	}
	if replaced != "01A" {
		t.Errorf("replaced = %q, want 01A", replaced)
	}
	if _, err := GetByID(db, "01A"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("old model still present: %v", err)
	}
	got, err := GetByName(db, "adult")
	if err != nil || got.ID != "01B" {
		t.Fatalf("GetByName = %v, %v", got, err)
	}

	replaced, err = ReplaceByName(db, newTestModel("01C", "fresh"))
	if err != nil || replaced != "" {
		t.Errorf("ReplaceByName fresh = %q, %v", replaced, err)
	}
}

func TestCheckNameExists(t *testing.T) {
	db := openTestDB(t)

	exists, err := CheckNameExists(db, "adult")
	if err != nil || exists {
		t.Fatalf("CheckNameExists before insert = %v, %v", exists, err)
	}
	if err := Insert(db, newTestModel("01A", "Adult")); err != nil {
		t.Fatal(err)
	}
	exists, err = CheckNameExists(db, "adult")
	if err != nil || !exists {
		t.Errorf("CheckNameExists after insert = %v, %v", exists, err)
	}
}

func TestList(t *testing.T) {
	db := openTestDB(t)

	for i, id := range []string{"01A", "01B", "01C"} {
		m := newTestModel(id, "")
		m.CreatedAt = int64(1000 + i)
		if err := Insert(db, m); err != nil {
			t.Fatal(err)
		}
	}

	items, total, err := List(db, 2, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(items) != 2 || items[0].ID != "01C" || items[1].ID != "01B" {
		t.Errorf("items = %+v", items)
	}
	if items[0].BlobBytes != 7 {
		t.Errorf("BlobBytes = %d, want 7", items[0].BlobBytes)
	}

	items, _, err = List(db, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "01A" {
		t.Errorf("second page = %+v", items)
	}
}

func TestDelete_CascadesLosses(t *testing.T) {
	db := openTestDB(t)

	if err := Insert(db, newTestModel("01A", "Adult")); err != nil {
		t.Fatal(err)
	}
	if err := Delete(db, "01A"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	losses, err := GetLosses(db, "01A")
	if err != nil {
		t.Fatal(err)
	}
	if len(losses) != 0 {
		t.Errorf("losses after delete = %d", len(losses))
	}
	if err := Delete(db, "01A"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second Delete err = %v, want NOT_FOUND", err)
	}
}

func TestRename(t *testing.T) {
	db := openTestDB(t)

	if err := Insert(db, newTestModel("01A", "Adult")); err != nil {
		t.Fatal(err)
	}
	if err := Insert(db, newTestModel("01B", "Other")); err != nil {
		t.Fatal(err)
	}

	raw, norm := "Census", "census"
	if err := Rename(db, "01A", &raw, &norm); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if _, err := GetByName(db, "census"); err != nil {
		t.Errorf("renamed model not found: %v", err)
	}

	taken := "other"
	if err := Rename(db, "01A", &taken, &taken); err != ErrUniqueConstraint {
		t.Errorf("err = %v, want ErrUniqueConstraint", err)
	}
	if err := Rename(db, "missing", &raw, &norm); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}
