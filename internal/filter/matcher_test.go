package filter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTermSet_Match(t *testing.T) {
	set := NewTermSet([]string{"Côte d'Ivoire", "termes de référence", "ci", "ao", "", "CI"})

	tests := []struct {
		name     string
		haystack string
		want     string
		found    bool
	}{
		{name: "Accent folded long term", haystack: "mission en cote d'ivoire", want: "cote d'ivoire", found: true},
		{name: "Long term inside text", haystack: "les termes de reference sont joints", want: "termes de reference", found: true},
		{name: "Short term as word", haystack: "avis ao n 12", want: "ao", found: true},
		{name: "Short term at start", haystack: "ci: projet", want: "ci", found: true},
		{name: "Short term inside word ignored", haystack: "specification technique", found: false},
		{name: "Short term inside another word ignored", haystack: "cacao", found: false},
		{name: "Empty haystack", haystack: "", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := set.Match(tt.haystack)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTermSet_DeduplicatesFoldedTerms(t *testing.T) {
	set := NewTermSet([]string{"Étude", "etude", "ETUDE", " "})
	assert.Equal(t, 1, set.Len())
}

func TestTermSet_MatchAll(t *testing.T) {
	set := NewTermSet([]string{"survey", "etude", "dao", "audit"})
	got := set.MatchAll("etude et survey, voir le dao")
	assert.ElementsMatch(t, []string{"survey", "etude", "dao"}, got)
}

func TestTermSet_Empty(t *testing.T) {
	var nilSet *TermSet
	assert.Equal(t, 0, nilSet.Len())

	set := NewTermSet(nil)
	_, ok := set.Match("anything")
	assert.False(t, ok)
	assert.Nil(t, set.MatchAll("anything"))
}

func TestTermSet_ConcurrentMatch(t *testing.T) {
	set := NewTermSet([]string{"abidjan", "yamoussoukro", "bouake"})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, ok := set.Match("bureau de yamoussoukro")
				assert.True(t, ok)
				assert.Equal(t, "yamoussoukro", got)
			}
		}()
	}
	wg.Wait()
}
