package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rcliao/crew-memory/internal/model"
)

// SchemaVersion is written into every shard and index file.
const SchemaVersion = 1

type envelope[T any] struct {
	SchemaVersion int `json:"schemaVersion"`
	Entries       []T `json:"entries"`
}

func encode[T any](entries []T) ([]byte, error) {
	if entries == nil {
		entries = []T{}
	}
	return json.MarshalIndent(envelope[T]{SchemaVersion: SchemaVersion, Entries: entries}, "", "  ")
}

// decode accepts both the versioned envelope and a bare JSON array.
func decode[T any](data []byte) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var out []T
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", env.SchemaVersion)
	}
	return env.Entries, nil
}

// ShardName returns the shard an entry of type t owned by agentID lives in.
func ShardName(t model.MemoryType, agentID string) (string, error) {
	info, ok := model.Lookup(t)
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrUnknownType, t)
	}
	if info.PerAgent {
		if agentID == "" {
			return "", fmt.Errorf("%w: %s", model.ErrMissingAgent, t)
		}
		return string(info.Tier) + "/" + safeName(agentID) + ".json", nil
	}
	return string(info.Tier) + "/" + info.File, nil
}

// safeName maps an agent id onto a file name.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			return r
		}
		return '_'
	}, strings.Trim(s, "."))
}
