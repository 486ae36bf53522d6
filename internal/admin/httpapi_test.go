package admin

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/lnhostd/lnhost/internal/lnerrors"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
	}{
		{lnerrors.Unauthenticated("no credential"), 401},
		{lnerrors.NotFound("tenant missing"), 404},
		{lnerrors.Precondition("must be stopped"), 409},
		{lnerrors.New(lnerrors.KindConfiguration, "bad request"), 400},
		{lnerrors.ChainFatal(errors.New("boom"), "db exploded"), 500},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.err)
		require.Equal(t, c.wantCode, rec.Code)
	}
}
