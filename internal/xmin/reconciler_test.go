package xmin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPkKeyDistinguishesTuples(t *testing.T) {
	require.NotEqual(t, pkKey([]string{"1", "2"}), pkKey([]string{"12"}))
	require.Equal(t, pkKey([]string{"a", "b"}), pkKey([]string{"a", "b"}))
}

func TestOrphanDiffLogic(t *testing.T) {
	source := [][]string{{"1"}, {"2"}, {"3"}}
	target := [][]string{{"1"}, {"2"}, {"3"}, {"4"}, {"5"}}

	sourceSet := make(map[string]struct{}, len(source))
	for _, pk := range source {
		sourceSet[pkKey(pk)] = struct{}{}
	}

	var orphaned [][]string
	for _, pk := range target {
		if _, ok := sourceSet[pkKey(pk)]; !ok {
			orphaned = append(orphaned, pk)
		}
	}

	require.Len(t, orphaned, 2)
	require.ElementsMatch(t, []string{"4", "5"}, []string{orphaned[0][0], orphaned[1][0]})
}
