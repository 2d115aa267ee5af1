package scoring

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

type Threshold struct {
	Label    string  `json:"label" yaml:"label"`
	MinScore float64 `json:"minScore" yaml:"min"`
}

// BoundaryTable maps a score to a label. Thresholds are inclusive lower bounds
// held in descending order; scores below every threshold get CatchAll.
type BoundaryTable struct {
	Name       string      `json:"name"`
	Thresholds []Threshold `json:"thresholds"`
	CatchAll   string      `json:"catchAll"`
}

func NewBoundaryTable(name, catchAll string, thresholds ...Threshold) BoundaryTable {
	sorted := make([]Threshold, len(thresholds))
	copy(sorted, thresholds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinScore > sorted[j].MinScore
	})
	return BoundaryTable{Name: name, Thresholds: sorted, CatchAll: catchAll}
}

// Classify returns the label of the first threshold whose minimum is <= score.
// NaN matches nothing and falls through to the catch-all.
func Classify(score float64, table BoundaryTable) string {
	for _, threshold := range table.Thresholds {
		if threshold.MinScore <= score {
			return threshold.Label
		}
	}
	return table.CatchAll
}

func (t BoundaryTable) validate() error {
	if strings.TrimSpace(t.CatchAll) == "" {
		return &ValidationError{Field: t.Name + ".catchAll", Reason: "catch-all label required"}
	}
	seen := map[string]bool{t.CatchAll: true}
	for i, threshold := range t.Thresholds {
		label := strings.TrimSpace(threshold.Label)
		if label == "" {
			return &ValidationError{Field: fmt.Sprintf("%s.thresholds[%d]", t.Name, i), Reason: "label required"}
		}
		if seen[label] {
			return &ValidationError{Field: fmt.Sprintf("%s.thresholds[%d]", t.Name, i), Reason: "duplicate label " + label}
		}
		seen[label] = true
	}
	return nil
}

func DefaultGradeTable() BoundaryTable {
	return NewBoundaryTable("grade", "D",
		Threshold{Label: "S", MinScore: 90},
		Threshold{Label: "A", MinScore: 80},
		Threshold{Label: "B", MinScore: 70},
		Threshold{Label: "C", MinScore: 60},
	)
}

func DefaultStatusTable() BoundaryTable {
	return NewBoundaryTable("status", "unsatisfactory",
		Threshold{Label: "excellent", MinScore: 90},
		Threshold{Label: "good", MinScore: 75},
		Threshold{Label: "needs_improvement", MinScore: 60},
	)
}

// Classifier holds the grade and status tables shared by results and calibrations.
type Classifier struct {
	GradeTable  BoundaryTable
	StatusTable BoundaryTable
}

func DefaultClassifier() Classifier {
	return Classifier{GradeTable: DefaultGradeTable(), StatusTable: DefaultStatusTable()}
}

func (c Classifier) Grade(score float64) string {
	return Classify(score, c.GradeTable)
}

func (c Classifier) Status(score float64) string {
	return Classify(score, c.StatusTable)
}

type tableFile struct {
	CatchAll   string      `yaml:"catchAll"`
	Thresholds []Threshold `yaml:"thresholds"`
}

type boundaryFile struct {
	Grade  *tableFile `yaml:"grade"`
	Status *tableFile `yaml:"status"`
}

// LoadBoundaryTables reads grade and status tables from YAML. A table missing
// from the document keeps its default.
func LoadBoundaryTables(r io.Reader) (Classifier, error) {
	var doc boundaryFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return Classifier{}, eris.Wrap(err, "scoring: decode boundary tables")
	}

	classifier := DefaultClassifier()
	if doc.Grade != nil {
		classifier.GradeTable = NewBoundaryTable("grade", doc.Grade.CatchAll, doc.Grade.Thresholds...)
	}
	if doc.Status != nil {
		classifier.StatusTable = NewBoundaryTable("status", doc.Status.CatchAll, doc.Status.Thresholds...)
	}
	if err := classifier.GradeTable.validate(); err != nil {
		return Classifier{}, err
	}
	if err := classifier.StatusTable.validate(); err != nil {
		return Classifier{}, err
	}
	return classifier, nil
}

func LoadBoundaryFile(path string) (Classifier, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultClassifier(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Classifier{}, eris.Wrapf(err, "scoring: open boundary file %s", path)
	}
	defer f.Close()
	return LoadBoundaryTables(f)
}
