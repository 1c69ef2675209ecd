package services

import (
	"math"
	"testing"

	"feedrank/models"
)

func weighted(weight *string, parentWeight *string, hidden bool) WeightedCategory {
	category := &models.Category{Weight: weight, IsHidden: hidden}
	var parent *models.Category
	if parentWeight != nil {
		parentID := uint(99)
		category.ParentID = &parentID
		parent = &models.Category{ID: parentID, Weight: parentWeight}
	}
	return WeightedCategory{Category: category, Parent: parent}
}

func TestEffectiveWeightInheritsOneLevel(t *testing.T) {
	boost := models.WeightBoost

	// Eigener Override schlägt alles.
	own := weighted(strPtr(models.WeightReduce), &boost, false)
	if got := EffectiveWeight(own.Category, own.Parent); got != models.WeightReduce {
		t.Errorf("own weight: got %q, want %q", got, models.WeightReduce)
	}

	// Ohne Override erbt die Kategorie vom Parent.
	inherited := weighted(nil, &boost, false)
	if got := EffectiveWeight(inherited.Category, inherited.Parent); got != models.WeightBoost {
		t.Errorf("inherited weight: got %q, want %q", got, models.WeightBoost)
	}

	// Parent ohne Gewicht: normal, Großeltern werden nie befragt.
	parentID := uint(7)
	grandID := uint(8)
	child := &models.Category{ParentID: &parentID}
	parent := &models.Category{ID: parentID, ParentID: &grandID}
	if got := EffectiveWeight(child, parent); got != models.WeightNormal {
		t.Errorf("default weight: got %q, want %q", got, models.WeightNormal)
	}
}

func TestWeightValueLegacyAliases(t *testing.T) {
	pairs := map[string]float64{
		"blocked": 0.0,
		"low":     0.5,
		"neutral": 1.0,
		"medium":  1.5,
		"high":    2.0,
	}
	for alias, want := range pairs {
		if got := WeightValue(alias); got != want {
			t.Errorf("WeightValue(%q) = %v, want %v", alias, got, want)
		}
	}
	if got := WeightValue("unknown"); got != 1.0 {
		t.Errorf("unknown weight: got %v, want 1.0", got)
	}
}

func TestComputeCompositeScoreScenarios(t *testing.T) {
	boost := models.WeightBoost
	normal := models.WeightNormal
	max := models.WeightMax

	cases := []struct {
		name       string
		interest   int
		quality    int
		categories []WeightedCategory
		want       float64
	}{
		{
			name:     "boost plus normal",
			interest: 8, quality: 10,
			categories: []WeightedCategory{
				weighted(&boost, nil, false),
				weighted(&normal, nil, false),
			},
			want: 10.0,
		},
		{
			name:     "no categories",
			interest: 8, quality: 7,
			want: 6.8,
		},
		{
			name:     "max weight capped",
			interest: 10, quality: 10,
			categories: []WeightedCategory{
				weighted(&max, nil, false),
			},
			want: 20.0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeCompositeScore(tc.interest, tc.quality, tc.categories)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("composite = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestComputeCompositeScoreBounds(t *testing.T) {
	weights := []string{models.WeightBlock, models.WeightReduce, models.WeightNormal, models.WeightBoost, models.WeightMax}
	for interest := 0; interest <= 10; interest++ {
		for quality := 0; quality <= 10; quality++ {
			for _, w := range weights {
				weight := w
				composite := ComputeCompositeScore(interest, quality, []WeightedCategory{
					weighted(&weight, nil, false),
				})
				if composite < 0 || composite > CompositeScoreCap {
					t.Fatalf("composite %v out of bounds (interest=%d quality=%d weight=%s)",
						composite, interest, quality, w)
				}
			}
		}
	}
}

func TestIsBlocked(t *testing.T) {
	block := models.WeightBlock
	normal := models.WeightNormal

	if !IsBlocked([]WeightedCategory{weighted(&block, nil, false)}) {
		t.Error("block weight must block")
	}
	if !IsBlocked([]WeightedCategory{weighted(&normal, nil, true)}) {
		t.Error("hidden category must block")
	}
	if !IsBlocked([]WeightedCategory{weighted(nil, &block, false)}) {
		t.Error("inherited block weight must block")
	}
	if IsBlocked([]WeightedCategory{weighted(&normal, nil, false)}) {
		t.Error("normal visible category must not block")
	}
	if IsBlocked(nil) {
		t.Error("empty category set must not block")
	}
}

func TestActivityLifecycle(t *testing.T) {
	activity := NewActivity()

	if got := activity.Snapshot(); got.Phase != PhaseIdle {
		t.Fatalf("initial phase = %q, want %q", got.Phase, PhaseIdle)
	}

	activity.SetArticle(42)
	activity.SetPhase(PhaseCategorizing)
	snap := activity.Snapshot()
	if snap.ArticleID != 42 || snap.Phase != PhaseCategorizing {
		t.Errorf("snapshot = %+v, want article 42 in %q", snap, PhaseCategorizing)
	}

	activity.Reset()
	snap = activity.Snapshot()
	if snap.ArticleID != 0 || snap.Phase != PhaseIdle {
		t.Errorf("after reset: %+v, want idle", snap)
	}
}
