package prompt

import (
	"context"

	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/objectstore"
)

// LoadExamples reads both reference texts from store. Failures are logged and
// leave the corresponding text empty.
func LoadExamples(ctx context.Context, store objectstore.Store, dialogueKey, narrationKey string, log *logger.Logger) Examples {
	var ex Examples
	if store == nil {
		return ex
	}

	read := func(key string) string {
		if key == "" {
			return ""
		}
		data, err := store.Download(ctx, key)
		if err != nil {
			log.Warn("In-context example unavailable", "key", key, "error", err.Error())
			return ""
		}
		return string(data)
	}

	ex.Dialogue = read(dialogueKey)
	ex.Narration = read(narrationKey)

	log.Info("In-context examples loaded",
		"dialogue_bytes", len(ex.Dialogue),
		"narration_bytes", len(ex.Narration),
	)
	return ex
}
