package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/contrib/community"
)

func TestOutput_JSONPrint(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "json", Writer: buf}

	err := out.Print(map[string]string{"result": "success"}, func(io.Writer) {
		t.Fatal("text renderer called in json mode")
	})
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"result": "success"}, resp.Data)
}

func TestOutput_TextPrint(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "text", Writer: buf}

	require.NoError(t, out.Print(42, func(w io.Writer) { fmt.Fprintln(w, "forty-two") }))
	assert.Equal(t, "forty-two\n", buf.String())
}

func TestOutput_Failure(t *testing.T) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	(&Output{Format: "text", Writer: stdout, ErrWriter: stderr}).Failure(errors.New("boom"))
	assert.Empty(t, stdout.String())
	assert.Equal(t, "Error: boom\n", stderr.String())

	stderr.Reset()
	(&Output{Format: "json", Writer: stdout, ErrWriter: stderr}).Failure(errors.New("boom"))
	assert.Empty(t, stderr.String())

	var resp Response
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "boom", resp.Error)
	assert.Nil(t, resp.Data)
}

func TestOutput_Event(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "json", Writer: buf}

	require.NoError(t, out.Event(watchEvent{Event: "change", Filter: "t", Seq: 1}, "ignored"))
	require.NoError(t, out.Event(watchEvent{Event: "change", Filter: "t", Seq: 2}, "ignored"))

	dec := json.NewDecoder(buf)
	for seq := 1; seq <= 2; seq++ {
		var ev watchEvent
		require.NoError(t, dec.Decode(&ev))
		assert.Equal(t, seq, ev.Seq)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("backend down"), ExitFailure},
		{"exit error", NewExitError(7, "custom"), 7},
		{"wrapped exit error", fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "load config", io.EOF)), ExitCommandError},
		{"invalid input", fmt.Errorf("%w: title is required", community.ErrInvalidInput), ExitCommandError},
		{"signed out", whyfail.ErrNotAuthenticated, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	err := WrapExitError(ExitCommandError, "load config", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "load config: unexpected EOF", err.Error())
}
