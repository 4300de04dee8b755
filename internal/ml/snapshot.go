package ml

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotVersion is bumped whenever LinearModel's encoding changes.
const snapshotVersion = 1

type snapshot struct {
	Version int          `msgpack:"v"`
	Name    string       `msgpack:"name"`
	Model   *LinearModel `msgpack:"model"`
}

// EncodeModel serializes a fitted model for storage.
func EncodeModel(m *LinearModel) ([]byte, error) {
	return msgpack.Marshal(snapshot{Version: snapshotVersion, Name: ModelName, Model: m})
}

// DecodeModel restores a model written by EncodeModel.
func DecodeModel(data []byte) (*LinearModel, error) {
	var s snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode model snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported model snapshot version %d", s.Version)
	}
	if s.Model == nil || len(s.Model.Coef) != len(FeatureNames) {
		return nil, fmt.Errorf("model snapshot %q is incomplete", s.Name)
	}
	return s.Model, nil
}
