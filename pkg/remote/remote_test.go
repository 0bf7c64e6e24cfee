package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/models"
)

func TestRPCErrorMapsSentinels(t *testing.T) {
	var err error = &RPCError{Code: CodeNoRows, Message: "no rows"}
	assert.ErrorIs(t, err, constants.ErrNoRows)
	assert.True(t, IsNoRows(fmt.Errorf("select profile: %w", err)))

	err = &RPCError{Code: CodeBackendRejected, Message: "permission denied"}
	assert.False(t, IsNoRows(err))
	assert.Equal(t, "permission denied", err.Error())

	assert.Equal(t, CodeNoRows, ToRPCError(constants.ErrNoRows).Code)
	assert.Equal(t, CodeUnknownProc, ToRPCError(fmt.Errorf("x: %w", constants.ErrUnknownProcedure)).Code)
	assert.Equal(t, CodeBackendRejected, ToRPCError(errors.New("boom")).Code)
}

func TestReadWriteErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &WriteError{Op: "insert", Table: "journal_entries", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "remote insert on journal_entries failed: connection reset", err.Error())

	var we *WriteError
	assert.True(t, errors.As(fmt.Errorf("create entry: %w", err), &we))

	rerr := &ReadError{Table: "profiles", Err: cause}
	assert.ErrorIs(t, rerr, cause)
}

func TestDecodeRows(t *testing.T) {
	type entry struct {
		ID       string   `json:"id"`
		IsPublic *bool    `json:"is_public"`
		Tags     []string `json:"tags"`
	}
	rows := []Row{
		{"id": "e1", "is_public": true, "tags": []any{"career"}},
		{"id": "e2", "is_public": nil},
	}

	got, err := DecodeRows[entry](rows)
	require.NoError(t, err)

	yes := true
	want := []entry{{ID: "e1", IsPublic: &yes, Tags: []string{"career"}}, {ID: "e2"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decoded rows mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode(t *testing.T) {
	type patch struct {
		IsAnonymous bool   `json:"is_anonymous_mode"`
		Skipped     string `json:"skipped,omitempty"`
	}
	row, err := Encode(patch{IsAnonymous: true})
	require.NoError(t, err)
	assert.Equal(t, Row{"is_anonymous_mode": true}, row)
}

func TestEventMatchesOldAndNew(t *testing.T) {
	public := models.EqFilter("journal_entries", "is_public", true)

	madePrivate := Event{
		Table:  "journal_entries",
		Action: UpdateAction,
		Record: Row{"id": "e1", "is_public": false},
		Old:    Row{"id": "e1", "is_public": true},
	}
	assert.True(t, madePrivate.Matches(public))

	unrelated := Event{Table: "journal_entries", Action: InsertAction, Record: Row{"is_public": false}}
	assert.False(t, unrelated.Matches(public))
}

func TestStaticIdentity(t *testing.T) {
	_, err := StaticIdentity("").CurrentUser(context.Background())
	assert.ErrorIs(t, err, constants.ErrNotAuthenticated)

	uid, err := StaticIdentity("u1").CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
}
