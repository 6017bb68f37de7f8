package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"gonum.org/v1/gonum/stat"
)

// DecisionTree is a CART regression tree stored as a flat node array.
// Child indices are absolute positions in nodes; index 0 is the root.
type DecisionTree struct {
	MaxDepth int

	nodes     []TreeNode
	width     int
	names     []string
	trainedAt time.Time
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

type treeParams struct {
	MaxDepth int        `json:"max_depth"`
	Width    int        `json:"width"`
	Nodes    []TreeNode `json:"nodes"`
}

const minSamplesSplit = 2

func NewDecisionTree(maxDepth int) *DecisionTree {
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &DecisionTree{MaxDepth: maxDepth, names: FeatureNames()}
}

func (dt *DecisionTree) Type() string { return ModelTypeDecisionTree }

func (dt *DecisionTree) FeatureNames() []string { return dt.names }

func (dt *DecisionTree) Train(features [][]float64, targets []float64) error {
	if err := validateTrainingSet(features, targets); err != nil {
		return err
	}
	if dt.MaxDepth <= 0 {
		dt.MaxDepth = 8
	}
	dt.nodes = dt.buildNode(features, targets, 0)
	dt.width = len(features[0])
	if dt.names == nil {
		dt.names = FeatureNames()
	}
	dt.trainedAt = time.Now().UTC()
	return nil
}

func (dt *DecisionTree) Predict(features []float64) (float64, error) {
	if len(dt.nodes) == 0 {
		return 0, ErrModelNotTrained
	}
	if err := checkFeatureCount(features, dt.width); err != nil {
		return 0, err
	}
	idx := 0
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
	return 0, errors.New("invalid tree state: cycle detected")
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (dt *DecisionTree) Depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return 0
		}
		l, r := walk(node.LeftChild), walk(node.RightChild)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return ErrModelNotTrained
	}
	return writeArtifact(path, dt.Type(), dt.names, dt.trainedAt, treeParams{
		MaxDepth: dt.MaxDepth,
		Width:    dt.width,
		Nodes:    dt.nodes,
	})
}

func (dt *DecisionTree) Load(path string) error {
	a, err := readArtifact(path)
	if err != nil {
		return err
	}
	if a.Type != ModelTypeDecisionTree {
		return errors.New("artifact is not a decision tree")
	}
	return dt.fromArtifact(a)
}

func (dt *DecisionTree) fromArtifact(a *artifact) error {
	var params treeParams
	if err := json.Unmarshal(a.Params, &params); err != nil {
		return err
	}
	if len(params.Nodes) == 0 {
		return errors.New("decision tree has no nodes")
	}
	if params.Width <= 0 {
		return errors.New("decision tree has no feature width")
	}
	// Nodes are stored in preorder, so a child always follows its parent.
	// Requiring that rules out cycles.
	for i, node := range params.Nodes {
		if node.IsLeaf {
			continue
		}
		if node.LeftChild <= i || node.LeftChild >= len(params.Nodes) ||
			node.RightChild <= i || node.RightChild >= len(params.Nodes) {
			return fmt.Errorf("decision tree node %d: child index out of range", i)
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= params.Width {
			return fmt.Errorf("decision tree node %d: feature index out of range", i)
		}
	}
	dt.MaxDepth = params.MaxDepth
	dt.width = params.Width
	dt.nodes = params.Nodes
	dt.names = a.FeatureNames
	dt.trainedAt = a.TrainedAt
	return nil
}

func leaf(targets []float64) []TreeNode {
	return []TreeNode{{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      stat.Mean(targets, nil),
		Samples:    len(targets),
		IsLeaf:     true,
	}}
}

func (dt *DecisionTree) buildNode(features [][]float64, targets []float64, depth int) []TreeNode {
	if depth >= dt.MaxDepth || len(targets) < minSamplesSplit || isConstant(targets) {
		return leaf(targets)
	}

	bestFeature, threshold, ok := findBestSplit(features, targets)
	if !ok {
		return leaf(targets)
	}

	leftFeatures, leftTargets, rightFeatures, rightTargets := splitData(features, targets, bestFeature, threshold)
	if len(leftTargets) == 0 || len(rightTargets) == 0 {
		return leaf(targets)
	}

	leftNodes := dt.buildNode(leftFeatures, leftTargets, depth+1)
	rightNodes := dt.buildNode(rightFeatures, rightTargets, depth+1)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		Value:      stat.Mean(targets, nil),
		Samples:    len(targets),
		IsLeaf:     false,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetNodes(leftNodes, 1)...)
	nodes = append(nodes, offsetNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// offsetNodes rebases subtree-relative child indices onto the parent array.
func offsetNodes(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += offset
		nodes[i].RightChild += offset
	}
	return nodes
}

// findBestSplit tries the lower median of every feature and keeps the split
// with the lowest summed squared error.
func findBestSplit(features [][]float64, targets []float64) (int, float64, bool) {
	featureCount := len(features[0])
	bestFeature := -1
	bestThreshold := 0.0
	bestSSE := sumSquaredError(targets)

	for featureIdx := 0; featureIdx < featureCount; featureIdx++ {
		values := make([]float64, len(features))
		for i := range features {
			values[i] = features[i][featureIdx]
		}
		sort.Float64s(values)
		threshold := stat.Quantile(0.5, stat.Empirical, values, nil)
		leftTargets, rightTargets := splitTargets(features, targets, featureIdx, threshold)
		if len(leftTargets) == 0 || len(rightTargets) == 0 {
			continue
		}
		sse := sumSquaredError(leftTargets) + sumSquaredError(rightTargets)
		if sse < bestSSE {
			bestSSE = sse
			bestFeature = featureIdx
			bestThreshold = threshold
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func splitData(features [][]float64, targets []float64, featureIdx int, threshold float64) ([][]float64, []float64, [][]float64, []float64) {
	leftFeatures := make([][]float64, 0)
	leftTargets := make([]float64, 0)
	rightFeatures := make([][]float64, 0)
	rightTargets := make([]float64, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftTargets = append(leftTargets, targets[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightTargets = append(rightTargets, targets[i])
		}
	}
	return leftFeatures, leftTargets, rightFeatures, rightTargets
}

func splitTargets(features [][]float64, targets []float64, featureIdx int, threshold float64) ([]float64, []float64) {
	leftTargets := make([]float64, 0)
	rightTargets := make([]float64, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftTargets = append(leftTargets, targets[i])
		} else {
			rightTargets = append(rightTargets, targets[i])
		}
	}
	return leftTargets, rightTargets
}

func sumSquaredError(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := stat.Mean(values, nil)
	var sse float64
	for _, v := range values {
		d := v - m
		sse += d * d
	}
	return sse
}

func isConstant(values []float64) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values[1:] {
		if math.Abs(v-values[0]) > 1e-12 {
			return false
		}
	}
	return true
}
