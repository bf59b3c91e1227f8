package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkallweit/normrel/helper"
)

// indexRebuildTimeout bounds the rebuild, ivfflat on large corpora can
// take a while
const indexRebuildTimeout = 60 * time.Second

// ChangeIndexType rebuilds the vector index as hnsw or ivfflat.
// Supported params: "m" and "ef_construction" for hnsw, "lists" for
// ivfflat; unset params use the pgvector defaults we ship with.
func (h *ChunksDBHandler) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	createIndexSQL, err := buildIndexSQL(indexType, params)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, indexRebuildTimeout)
	defer cancel()

	_, err = h.db.Instance.ExecContext(ctx, `DROP INDEX IF EXISTS idx_chunks_embedding;`)
	if err != nil {
		return helper.NewError("drop index", err)
	}

	_, err = h.db.Instance.ExecContext(ctx, createIndexSQL)
	if err != nil {
		return helper.NewError("create index", err)
	}

	h.db.Logger.Info("Rebuilt vector index",
		slog.String("type", indexType),
		slog.Any("params", params))

	return nil
}

func buildIndexSQL(indexType string, params map[string]interface{}) (string, error) {
	intParam := func(key string, fallback int) int {
		if value, ok := params[key].(int); ok {
			return value
		}
		return fallback
	}

	switch indexType {
	case "hnsw":
		return fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			intParam("m", 16), intParam("ef_construction", 64),
		), nil
	case "ivfflat":
		return fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			intParam("lists", 100),
		), nil
	default:
		return "", helper.NewError("change index type", fmt.Errorf("unsupported index type: %s (use 'hnsw' or 'ivfflat')", indexType))
	}
}
