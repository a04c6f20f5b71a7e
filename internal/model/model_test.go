package model

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/hpungsan/tabsynth/internal/synth"
	"github.com/hpungsan/tabsynth/internal/table"
	"github.com/hpungsan/tabsynth/internal/transform"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Census", "census"},
		{"  Census   Adult  ", "census adult"},
		{"a\t\nb", "a b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidName(t *testing.T) {
	if ValidName("   ") {
		t.Error("blank name accepted")
	}
	if !ValidName("adult") {
		t.Error("plain name rejected")
	}
	if ValidName(strings.Repeat("x", MaxNameLength+1)) {
		t.Error("overlong name accepted")
	}
}

func TestToSummary(t *testing.T) {
	name := "Adult"
	m := &Model{ID: "01ABC", NameRaw: &name, Rows: 10, Blob: make([]byte, 42), State: "converged"}
	s := m.ToSummary()
	if s.BlobBytes != 42 || s.Rows != 10 || *s.Name != "Adult" || s.State != "converged" {
		t.Errorf("summary = %+v", s)
	}
}

func TestFinalLoss(t *testing.T) {
	m := &Model{}
	if _, ok := m.FinalLoss(); ok {
		t.Fatal("FinalLoss on empty history reported ok")
	}
	m.Losses = []synth.EpochLoss{{Epoch: 0, GeneratorLoss: 1}, {Epoch: 1, GeneratorLoss: 2}}
	last, ok := m.FinalLoss()
	if !ok || last.Epoch != 1 {
		t.Errorf("FinalLoss = %+v, %v", last, ok)
	}
}

func TestReport(t *testing.T) {
	tb := table.New([]string{"tier", "amount"})
	for i := 0; i < 40; i++ {
		tier := "A"
		if i%4 == 0 {
			tier = "B"
		}
		if err := tb.Append([]string{tier, []string{"1.5", "2.5", "10.0", "11.0"}[i%4]}); err != nil {
			t.Fatal(err)
		}
	}
	schema, err := table.FromDiscrete(tb.Header, []string{"tier"})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := transform.Fit(tb, schema, transform.DefaultOptions(), rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	m := &Model{
		ID:     "01ABC",
		Rows:   40,
		State:  "converged",
		Epochs: 2,
		Losses: []synth.EpochLoss{
			{Epoch: 0, GeneratorLoss: 0.5, DiscriminatorLoss: -0.25},
			{Epoch: 1, GeneratorLoss: 0.4, DiscriminatorLoss: -0.2},
		},
	}
	md := Report(m, tr)

	for _, want := range []string{
		"# 01ABC",
		"## Summary",
		"## Columns",
		"| tier | categorical | discrete |",
		"2 categories",
		"## Modes",
		"### amount",
		"## Losses",
		"| 1 | 0.4000 | -0.2000 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q\n%s", want, md)
		}
	}
}

func TestReport_NoLosses(t *testing.T) {
	md := Report(&Model{ID: "x"}, nil)
	if !strings.Contains(md, "No epochs recorded.") {
		t.Errorf("report = %s", md)
	}
	if strings.Contains(md, "## Columns") {
		t.Error("layout rendered without transformer")
	}
}
