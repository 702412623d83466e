package extract

import (
	"strings"
	"testing"

	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/query/gazetteer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestExtractor(t testing.TB) *Extractor {
	g, err := gazetteer.Default()
	require.NoError(t, err)
	return New(g, 512)
}

func labels(entities []models.Entity) map[string]models.EntityType {
	out := make(map[string]models.EntityType, len(entities))
	for _, e := range entities {
		out[e.CanonicalLabel] = e.Type
	}
	return out
}

func TestExtract(t *testing.T) {
	x := newTestExtractor(t)

	tests := []struct {
		name    string
		query   string
		want    map[string]models.EntityType
		absent  []string
		wordCnt int
	}{
		{
			name:    "equipment and symptom",
			query:   "Main engine overheating",
			want:    map[string]models.EntityType{"MAIN_ENGINE": models.EntityEquipment, "OVERHEATING": models.EntitySymptom},
			wordCnt: 3,
		},
		{
			name:    "storage box inside longer word is not a vent",
			query:   "inventory box 3d",
			want:    map[string]models.EntityType{"BOX_3D": models.EntityLocation},
			absent:  []string{"VENTILATION_FAN"},
			wordCnt: 3,
		},
		{
			name:  "numbered generator beats bare alias",
			query: "generator 2 running hours",
			want:  map[string]models.EntityType{"GENERATOR_2": models.EntityEquipment},
			absent: []string{"GENERATOR"},
		},
		{
			name:  "fault code",
			query: "CAT genset alarm E-047",
			want: map[string]models.EntityType{
				"CATERPILLAR": models.EntityBrand,
				"GENERATOR":   models.EntityEquipment,
				"ALARM":       models.EntitySymptom,
				"E047":        models.EntityFault,
			},
		},
		{
			name:   "longest phrase wins",
			query:  "steering gear room lights",
			want:   map[string]models.EntityType{"STEERING_ROOM": models.EntityLocation},
			absent: []string{"STEERING_GEAR"},
		},
		{
			name:  "diacritics folded",
			query: "Wärtsilä fuel injector",
			want:  map[string]models.EntityType{"WARTSILA": models.EntityBrand, "INJECTOR": models.EntityPart},
		},
		{
			name:  "apostrophe folded",
			query: "watermaker won't start",
			want:  map[string]models.EntityType{"WATERMAKER": models.EntityEquipment, "NO_START": models.EntitySymptom},
		},
		{
			name:  "alarm panel",
			query: "alarm panel fault on bridge",
			want:  map[string]models.EntityType{"ALARM_PANEL": models.EntityEquipment, "BRIDGE": models.EntityLocation},
		},
		{
			name:    "nothing recognisable",
			query:   "hello there",
			want:    map[string]models.EntityType{},
			wordCnt: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := x.Extract(tt.query)
			got := labels(res.Entities)
			for label, typ := range tt.want {
				assert.Equal(t, typ, got[label], "label %s", label)
			}
			for _, label := range tt.absent {
				assert.NotContains(t, got, label)
			}
			if tt.wordCnt > 0 {
				assert.Equal(t, tt.wordCnt, res.WordCount())
			}
		})
	}
}

func TestExtract_ManualDisambiguation(t *testing.T) {
	x := newTestExtractor(t)

	tests := []struct {
		query string
		typ   models.EntityType
		label string
	}{
		{"caterpillar manual", models.EntityDocument, "MANUAL"},
		{"manual for the bilge pump", models.EntityDocument, "MANUAL"},
		{"generator manual mode", models.EntityFault, "MANUAL_MODE"},
		{"steering stuck in manual", models.EntityFault, "MANUAL_MODE"},
		{"manual", models.EntityDocument, "MANUAL"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := x.Extract(tt.query)
			var found *models.Entity
			for i := range res.Entities {
				if res.Entities[i].RawSpan == "manual" {
					found = &res.Entities[i]
				}
			}
			require.NotNil(t, found)
			assert.Equal(t, tt.typ, found.Type)
			assert.Equal(t, tt.label, found.CanonicalLabel)
		})
	}

	// adjacent equipment makes the document reading stronger than the default
	withBrand := x.Extract("caterpillar manual")
	alone := x.Extract("manual")
	doc := func(r Result) float64 {
		e, _ := models.FirstOfType(r.Entities, models.EntityDocument)
		return e.Score()
	}
	assert.Greater(t, doc(withBrand), doc(alone))
}

func TestExtract_SortedAndDeduped(t *testing.T) {
	x := newTestExtractor(t)
	res := x.Extract("bilge pump and bilge pump leak")

	count := 0
	for _, e := range res.Entities {
		if e.CanonicalLabel == "BILGE_PUMP" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	for i := 1; i < len(res.Entities); i++ {
		assert.GreaterOrEqual(t, res.Entities[i-1].Score(), res.Entities[i].Score())
	}
}

func TestExtract_Truncates(t *testing.T) {
	g, err := gazetteer.Default()
	require.NoError(t, err)
	x := New(g, 16)

	res := x.Extract("main engine " + strings.Repeat("ä", 40) + " bilge pump")
	assert.True(t, res.Truncated)
	assert.Contains(t, labels(res.Entities), "MAIN_ENGINE")
	assert.NotContains(t, labels(res.Entities), "BILGE_PUMP")
}

func TestExtract_EmptyAndHostileInput(t *testing.T) {
	x := newTestExtractor(t)
	assert.Empty(t, x.Extract("").Entities)
	assert.Empty(t, x.Extract("   \t\n").Entities)
	assert.Empty(t, x.Extract("\xff\xfe\x00").Entities)
}

func TestExtract_SpansAreDisjointAndInBounds(t *testing.T) {
	x := newTestExtractor(t)
	vocab := []string{
		"main", "engine", "generator", "2", "box", "3d", "manual", "mode",
		"cat", "alarm", "e-047", "steering", "gear", "room", "vent", "inventory",
		"leak", "oil", "filter", "the", "wont", "start", "b&w", "man",
	}

	rapid.Check(t, func(rt *rapid.T) {
		words := rapid.SliceOfN(rapid.SampledFrom(vocab), 0, 12).Draw(rt, "words")
		res := x.Extract(strings.Join(words, " "))

		for i, a := range res.Entities {
			if a.Start < 0 || a.End > len(res.Normalized) || a.Start >= a.End {
				rt.Fatalf("span out of bounds: %+v", a)
			}
			if res.Normalized[a.Start:a.End] != a.RawSpan {
				rt.Fatalf("raw span mismatch: %+v", a)
			}
			if a.Score() <= 0 || a.Score() > 1 {
				rt.Fatalf("score out of range: %+v", a)
			}
			for _, b := range res.Entities[i+1:] {
				if a.Start < b.End && b.Start < a.End {
					rt.Fatalf("overlapping entities %+v and %+v", a, b)
				}
			}
		}
	})
}
