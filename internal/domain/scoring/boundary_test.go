package scoring

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDefaultGradeTable(t *testing.T) {
	table := DefaultGradeTable()
	tests := []struct {
		name  string
		score float64
		want  string
	}{
		{"well above top", 1000, "S"},
		{"exactly top threshold", 90, "S"},
		{"just below top", 89.999, "A"},
		{"exactly A", 80, "A"},
		{"exactly C", 60, "C"},
		{"just below C", 59.99, "D"},
		{"zero", 0, "D"},
		{"negative", -10, "D"},
		{"positive infinity", math.Inf(1), "S"},
		{"negative infinity", math.Inf(-1), "D"},
		{"nan", math.NaN(), "D"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.score, table))
		})
	}
}

func labels(t BoundaryTable) []string {
	out := make([]string, 0, len(t.Thresholds)+1)
	for _, threshold := range t.Thresholds {
		out = append(out, threshold.Label)
	}
	return append(out, t.CatchAll)
}

func TestNewBoundaryTableSortsDescending(t *testing.T) {
	table := NewBoundaryTable("grade", "low",
		Threshold{Label: "mid", MinScore: 50},
		Threshold{Label: "top", MinScore: 90},
		Threshold{Label: "upper", MinScore: 70},
	)
	assert.Equal(t, []string{"top", "upper", "mid", "low"}, labels(table))
	assert.Equal(t, "upper", Classify(75, table))
}

func TestClassifyMatchesHighestSatisfiedThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		n := rng.Intn(6)
		thresholds := make([]Threshold, n)
		for j := range thresholds {
			thresholds[j] = Threshold{Label: string(rune('a' + j)), MinScore: float64(rng.Intn(200) - 50)}
		}
		table := NewBoundaryTable("random", "catch", thresholds...)

		for k := 0; k < 20; k++ {
			score := rng.Float64()*300 - 100
			want := "catch"
			best := math.Inf(-1)
			for _, th := range table.Thresholds {
				if th.MinScore <= score && th.MinScore > best {
					best = th.MinScore
					want = th.Label
				}
			}
			require.Equal(t, want, Classify(score, table), "score %v table %+v", score, table.Thresholds)
		}
	}
}

func TestClassifierStatus(t *testing.T) {
	c := DefaultClassifier()
	assert.Equal(t, "excellent", c.Status(90))
	assert.Equal(t, "good", c.Status(75))
	assert.Equal(t, "needs_improvement", c.Status(74.9))
	assert.Equal(t, "unsatisfactory", c.Status(10))
	assert.Equal(t, "B", c.Grade(72))
}

func TestLoadBoundaryTables(t *testing.T) {
	doc := `
grade:
  catchAll: E
  thresholds:
    - {label: C, min: 50}
    - {label: A, min: 85}
    - {label: B, min: 70}
`
	c, err := LoadBoundaryTables(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "E"}, labels(c.GradeTable))
	assert.Equal(t, "B", c.Grade(70))
	assert.Equal(t, "E", c.Grade(49))
	assert.Equal(t, DefaultStatusTable(), c.StatusTable)
}

func TestLoadBoundaryTablesEmptyUsesDefaults(t *testing.T) {
	c, err := LoadBoundaryTables(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultClassifier(), c)
}

func TestLoadBoundaryTablesRejectsInvalid(t *testing.T) {
	_, err := LoadBoundaryTables(strings.NewReader("status:\n  thresholds:\n    - {label: ok, min: 1}\n"))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "status.catchAll", validationErr.Field)

	_, err = LoadBoundaryTables(strings.NewReader("grade:\n  catchAll: D\n  thresholds:\n    - {label: D, min: 1}\n"))
	require.ErrorAs(t, err, &validationErr)

	_, err = LoadBoundaryTables(strings.NewReader("grade: [unclosed"))
	assert.Error(t, err)
}

func TestLoadBoundaryFileEmptyPath(t *testing.T) {
	c, err := LoadBoundaryFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultClassifier(), c)
}
