// Package topics resolves a dataset's topic hierarchy into the leaf topics
// a generation run targets. When no hierarchy exists, pseudo-topics are
// derived from the topics already present on seed records.
package topics

import (
	"errors"

	"github.com/hataori-ai/hataori/internal/model"
)

// UncategorizedBucket groups seed records that carry no topic of their own.
const UncategorizedBucket = "uncategorized"

// ErrNoTopics is returned when neither a hierarchy nor any topic-bearing
// seed record is available. The orchestrator must fail loudly rather than
// silently generate zero records.
var ErrNoTopics = errors.New("topics: no topics found and no seed records provided — configure a topic hierarchy or provide seed record ids to generate variations from")

// Leaf is a resolved leaf of the topic hierarchy, or a synthesized
// pseudo-topic in seed-based mode. Path is the full chain of names from the
// root.
type Leaf struct {
	ID   string
	Name string
	Path []string
}

// Leaves recursively collects every node with no children, carrying its full
// path from the root. Node IDs fall back to the node name when absent.
func Leaves(nodes []model.TopicNode) []Leaf {
	return walk(nodes, nil)
}

func walk(nodes []model.TopicNode, parentPath []string) []Leaf {
	var leaves []Leaf
	for _, node := range nodes {
		path := append(append([]string{}, parentPath...), node.Name)
		if len(node.Children) > 0 {
			leaves = append(leaves, walk(node.Children, path)...)
			continue
		}
		id := node.ID
		if id == "" {
			id = node.Name
		}
		leaves = append(leaves, Leaf{ID: id, Name: node.Name, Path: path})
	}
	return leaves
}

// Resolve produces the set of leaf topics to generate against.
//
// With a hierarchy, every leaf is a target; a non-empty selection filters the
// leaf list, matching by ID first and then by name, dropping unmatched
// entries silently. Without usable leaves, one pseudo-topic is synthesized
// per distinct topic value found among the seeds (topicless seeds share the
// uncategorized bucket). With neither, ErrNoTopics is returned.
//
// seedBased reports whether the returned leaves are pseudo-topics derived
// from seeds; the orchestrator uses it to partition seeds per topic.
func Resolve(hierarchy []model.TopicNode, selected []string, seeds []model.DatasetRecord) (leaves []Leaf, seedBased bool, err error) {
	leaves = Leaves(hierarchy)

	if len(selected) > 0 && len(leaves) > 0 {
		var filtered []Leaf
		for _, sel := range selected {
			if leaf, ok := find(leaves, sel); ok {
				filtered = append(filtered, leaf)
			}
		}
		leaves = filtered
	}

	if len(leaves) > 0 {
		return leaves, false, nil
	}

	if len(seeds) > 0 {
		return fromSeeds(seeds), true, nil
	}
	return nil, false, ErrNoTopics
}

// find matches a selection entry against leaves by ID, then by name.
func find(leaves []Leaf, sel string) (Leaf, bool) {
	for _, l := range leaves {
		if l.ID == sel {
			return l, true
		}
	}
	for _, l := range leaves {
		if l.Name == sel {
			return l, true
		}
	}
	return Leaf{}, false
}

// fromSeeds synthesizes one pseudo-topic per distinct seed topic, in first-
// seen order.
func fromSeeds(seeds []model.DatasetRecord) []Leaf {
	var leaves []Leaf
	seen := make(map[string]bool)
	for _, seed := range seeds {
		topic := seed.Topic
		if topic == "" {
			topic = UncategorizedBucket
		}
		if seen[topic] {
			continue
		}
		seen[topic] = true
		leaves = append(leaves, Leaf{ID: topic, Name: topic, Path: []string{topic}})
	}
	return leaves
}
