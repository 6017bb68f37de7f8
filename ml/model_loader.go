package ml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
)

// NewModel returns an untrained model of the given type.
func NewModel(modelType string, maxDepth int, ridge float64) (Model, error) {
	switch modelType {
	case ModelTypeLinear:
		return NewLinearRegression(ridge), nil
	case ModelTypeDecisionTree:
		return NewDecisionTree(maxDepth), nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}

// LoadModel reads an artifact and dispatches on its type tag.
func LoadModel(path string) (Model, error) {
	a, err := readArtifact(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	switch a.Type {
	case ModelTypeLinear:
		model := &LinearRegression{}
		if err := model.fromArtifact(a); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		return model, nil
	case ModelTypeDecisionTree:
		model := &DecisionTree{}
		if err := model.fromArtifact(a); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("load %s: unsupported model type %q", path, a.Type)
	}
}

func readArtifact(path string) (*artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if a.Type == "" {
		return nil, errors.New("model artifact has no type")
	}
	if len(a.Params) == 0 {
		return nil, errors.New("model artifact has no params")
	}
	return &a, nil
}

// writeArtifact writes to a temp file and renames it over path, so a watcher
// never observes a half-written model.
func writeArtifact(path, modelType string, names []string, trainedAt time.Time, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(artifact{
		Type:         modelType,
		FeatureNames: names,
		TrainedAt:    trainedAt,
		Params:       raw,
	}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".model-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
