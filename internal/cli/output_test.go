package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterSuccessJSON(t *testing.T) {
	var out bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out}

	require.NoError(t, f.Success([]string{"a", "b"}))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []any{"a", "b"}, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestFormatterSuccessText(t *testing.T) {
	var out bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &out}

	require.NoError(t, f.SuccessText("one\ntwo\n", []string{"one", "two"}))
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestFormatterSuccessTextAsJSON(t *testing.T) {
	var out bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out}

	require.NoError(t, f.SuccessText("ignored\n", map[string]int{"n": 3}))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotContains(t, out.String(), "ignored")
}

func TestFormatterErrorJSON(t *testing.T) {
	var out bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out}

	require.NoError(t, f.Error("it broke", "details"))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "it broke", resp.Error.Message)
}

func TestVerboseLogGoesToErrWriter(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}

	f.VerboseLog("step %d", 1)
	assert.Empty(t, out.String())
	assert.Equal(t, "step 1\n", errOut.String())

	f.Verbose = false
	f.VerboseLog("step %d", 2)
	assert.Equal(t, "step 1\n", errOut.String())
}

func TestExitCodes(t *testing.T) {
	err := WrapExitError(ExitCommandError, "bad flag", nil)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "bad flag", err.Error())

	wrapped := WrapExitError(ExitFailure, "query failed", errors.New("boom"))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, "query failed: boom", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "boom")

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
