package ui_test

import (
	"testing"

	"github.com/hivemind-dev/coordinator/internal/ui"
	"github.com/stretchr/testify/assert"
)

func TestShouldUseColor_NoColorEnvDisables(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, ui.ShouldUseColor())
}

func TestShouldUseColor_CliColorZeroDisables(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR", "0")
	assert.False(t, ui.ShouldUseColor())
}

func TestShouldUseColor_CliColorForceEnablesRegardlessOfTTY(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	assert.True(t, ui.ShouldUseColor())
}

func TestShouldUseEmoji_HivemindNoEmojiDisables(t *testing.T) {
	t.Setenv("HIVEMIND_NO_EMOJI", "1")
	assert.False(t, ui.ShouldUseEmoji())
}

func TestIsAgentMode_HivemindAgentModeEnvTriggersTrue(t *testing.T) {
	t.Setenv("CLAUDE_CODE", "")
	t.Setenv("HIVEMIND_AGENT_MODE", "1")
	assert.True(t, ui.IsAgentMode())
}

func TestIsAgentMode_ClaudeCodeEnvTriggersTrue(t *testing.T) {
	t.Setenv("HIVEMIND_AGENT_MODE", "")
	t.Setenv("CLAUDE_CODE", "1")
	assert.True(t, ui.IsAgentMode())
}

func TestIsAgentMode_FalseWithNeitherEnvSet(t *testing.T) {
	t.Setenv("HIVEMIND_AGENT_MODE", "")
	t.Setenv("CLAUDE_CODE", "")
	assert.False(t, ui.IsAgentMode())
}
