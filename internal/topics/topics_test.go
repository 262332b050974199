package topics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hataori-ai/hataori/internal/model"
)

func hierarchy() []model.TopicNode {
	// A
	// ├── B
	// └── C
	//     ├── D
	//     └── E
	return []model.TopicNode{
		{
			ID: "a", Name: "A",
			Children: []model.TopicNode{
				{ID: "b", Name: "B"},
				{
					ID: "c", Name: "C",
					Children: []model.TopicNode{
						{ID: "d", Name: "D"},
						{ID: "e", Name: "E"},
					},
				},
			},
		},
	}
}

func TestLeavesCollectsOnlyLeafNodesWithFullPaths(t *testing.T) {
	leaves := Leaves(hierarchy())
	require.Len(t, leaves, 3)

	require.Equal(t, "b", leaves[0].ID)
	require.Equal(t, []string{"A", "B"}, leaves[0].Path)
	require.Equal(t, "d", leaves[1].ID)
	require.Equal(t, []string{"A", "C", "D"}, leaves[1].Path)
	require.Equal(t, "e", leaves[2].ID)
	require.Equal(t, []string{"A", "C", "E"}, leaves[2].Path)
}

func TestLeavesFallsBackToNameWhenIDEmpty(t *testing.T) {
	leaves := Leaves([]model.TopicNode{{Name: "Solo"}})
	require.Len(t, leaves, 1)
	require.Equal(t, "Solo", leaves[0].ID)
}

func TestResolveSelectionFiltersByIDThenName(t *testing.T) {
	leaves, seedBased, err := Resolve(hierarchy(), []string{"d", "B", "no-such-topic"}, nil)
	require.NoError(t, err)
	require.False(t, seedBased)
	require.Len(t, leaves, 2)
	require.Equal(t, "d", leaves[0].ID)
	require.Equal(t, "b", leaves[1].ID)
}

func TestResolveAllLeavesWithoutSelection(t *testing.T) {
	leaves, seedBased, err := Resolve(hierarchy(), nil, nil)
	require.NoError(t, err)
	require.False(t, seedBased)
	require.Len(t, leaves, 3)
}

func TestResolveSeedBasedPseudoTopics(t *testing.T) {
	seeds := []model.DatasetRecord{
		{ID: "1", Topic: "refunds"},
		{ID: "2", Topic: ""},
		{ID: "3", Topic: "refunds"},
		{ID: "4", Topic: "shipping"},
	}
	leaves, seedBased, err := Resolve(nil, nil, seeds)
	require.NoError(t, err)
	require.True(t, seedBased)
	require.Len(t, leaves, 3)

	// First-seen order, topicless seeds share the uncategorized bucket.
	require.Equal(t, "refunds", leaves[0].ID)
	require.Equal(t, UncategorizedBucket, leaves[1].ID)
	require.Equal(t, "shipping", leaves[2].ID)
	require.Equal(t, []string{"refunds"}, leaves[0].Path)
}

func TestResolveSelectionEmptyingLeavesFallsThroughToSeeds(t *testing.T) {
	seeds := []model.DatasetRecord{{ID: "1", Topic: "refunds"}}
	leaves, seedBased, err := Resolve(hierarchy(), []string{"no-match"}, seeds)
	require.NoError(t, err)
	require.True(t, seedBased)
	require.Len(t, leaves, 1)
	require.Equal(t, "refunds", leaves[0].ID)
}

func TestResolveNoTopicsAndNoSeeds(t *testing.T) {
	_, _, err := Resolve(nil, nil, nil)
	require.ErrorIs(t, err, ErrNoTopics)
}
