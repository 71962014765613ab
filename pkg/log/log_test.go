package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildLoggersCarryFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	base := WithComponent("orchestrator")
	logger := WithEntryID(WithMirrorID(base, "m1"), "e1")
	logger.Info().Msg("pushing")

	line := buf.String()
	assert.Contains(t, line, `"component":"orchestrator"`)
	assert.Contains(t, line, `"mirror_id":"m1"`)
	assert.Contains(t, line, `"entry_id":"e1"`)
}

func TestInitLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Debug().Msg("invisible")
	Logger.Warn().Msg("visible")

	assert.NotContains(t, buf.String(), "invisible")
	assert.Contains(t, buf.String(), "visible")
}
