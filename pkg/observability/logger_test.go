package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("emits JSON with fields", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger("info", &buf)

		log.WithField("org_id", 42).Info("role created")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "role created", entry["msg"])
		assert.Equal(t, float64(42), entry["org_id"])
	})

	t.Run("level filters lower severities", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger("warn", &buf)

		log.Info("dropped")
		log.Warn("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		log := NewLogger("verbose", nil)
		assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	})
}
