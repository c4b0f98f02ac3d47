package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/bottest/internal/model"
)

// TestClassifyError_CLIError verifies a CLIError carries its own exit
// code, message, and detail through, even when wrapped.
func TestClassifyError_CLIError(t *testing.T) {
	underlying := errors.New("initdb exploded")
	err := model.WrapCLIError(model.ExitSetupFailed, "environment setup failed", underlying)

	code, message, detail := classifyError(fmt.Errorf("up: %w", err))
	assert.Equal(t, model.ExitSetupFailed, code)
	assert.Equal(t, "environment setup failed", message)
	assert.Equal(t, underlying, detail)
}

// TestClassifyError_Generic verifies plain errors map to the general
// exit code with no detail.
func TestClassifyError_Generic(t *testing.T) {
	code, message, detail := classifyError(errors.New("something broke"))
	assert.Equal(t, model.ExitGeneralError, code)
	assert.Equal(t, "something broke", message)
	assert.Nil(t, detail)
}

func TestRenderError_Text(t *testing.T) {
	assert.Equal(t, "Error: bad config", renderError(false, "bad config", nil))
	assert.Equal(t, "Error: bad config: no such file",
		renderError(false, "bad config", errors.New("no such file")))
}

func TestRenderError_JSON(t *testing.T) {
	out := renderError(true, "bad config", errors.New("no such file"))

	var decoded struct {
		Error struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "bad config", decoded.Error.Message)
	assert.Equal(t, "no such file", decoded.Error.Detail)
}
