package ml

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadModelRejectsBadArtifacts(t *testing.T) {
	leafNode := `{"feature_idx":-1,"left_child":-1,"right_child":-1,"value":1,"samples":1,"is_leaf":true}`

	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"not json", `model`, "decode model artifact"},
		{"no type", `{"params":{}}`, "no type"},
		{"no params", `{"type":"linear"}`, "no params"},
		{"unknown type", `{"type":"random_forest","params":{}}`, `unsupported model type "random_forest"`},
		{"linear without weights", `{"type":"linear","params":{"weights":[]}}`, "no weights"},
		{"linear scaler mismatch", `{"type":"linear","params":{"weights":[1,2],"scaler":{"mins":[0],"maxs":[1]}}}`, "scaler does not match"},
		{"tree without nodes", `{"type":"decision_tree","params":{"width":4,"nodes":[]}}`, "no nodes"},
		{"tree without width", `{"type":"decision_tree","params":{"nodes":[` + leafNode + `]}}`, "feature width"},
		{
			"tree child out of range",
			`{"type":"decision_tree","params":{"width":4,"nodes":[{"feature_idx":0,"threshold":1,"left_child":1,"right_child":7},` + leafNode + `]}}`,
			"child index out of range",
		},
		{
			"tree cycle",
			`{"type":"decision_tree","params":{"width":4,"nodes":[{"feature_idx":0,"threshold":1,"left_child":1,"right_child":2},{"feature_idx":0,"threshold":1,"left_child":0,"right_child":2},` + leafNode + `]}}`,
			"child index out of range",
		},
		{
			"tree feature out of range",
			`{"type":"decision_tree","params":{"width":4,"nodes":[{"feature_idx":9,"threshold":1,"left_child":1,"right_child":2},` + leafNode + `,` + leafNode + `]}}`,
			"feature index out of range",
		},
	}

	dir := t.TempDir()
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, "model"+string(rune('a'+i))+".json")
			if err := os.WriteFile(path, []byte(tc.payload), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadModel(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
			if !strings.Contains(err.Error(), path) {
				t.Fatalf("expected the path in the error, got %v", err)
			}
		})
	}
}

func TestLoadModelMissingFile(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadedTreeRejectsWrongFeatureCount(t *testing.T) {
	model := NewDecisionTree(2)
	if err := model.Train([][]float64{{1, 1, 1, 1}, {2, 2, 2, 2}, {3, 3, 3, 3}}, []float64{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tree.json")
	if err := model.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := loaded.Predict([]float64{1, 2}); err == nil {
		t.Fatal("expected feature count error")
	}
}
