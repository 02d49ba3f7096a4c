package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgError "github.com/AzielCF/az-restyle/pkg/error"
)

func TestEditRecord_TerminalStateIsSetOnce(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		finish func(r *EditRecord) error
		want   Status
	}{
		{"complete", func(r *EditRecord) error { return r.Complete(ImageInfo{URL: "u"}, start.Add(1500*time.Millisecond)) }, StatusCompleted},
		{"fail", func(r *EditRecord) error { return r.Fail("upstream timeout", start.Add(1500*time.Millisecond)) }, StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewEditRecord("e1", "req", "sess", "tpl", start)
			require.NoError(t, r.Start())
			require.NoError(t, tc.finish(r))
			assert.Equal(t, tc.want, r.Processing.Status)
			assert.Equal(t, int64(1500), r.Processing.DurationMs)

			var internal pkgError.InternalError
			assert.ErrorAs(t, r.Complete(ImageInfo{}, start.Add(time.Hour)), &internal)
			assert.ErrorAs(t, r.Fail("again", start.Add(time.Hour)), &internal)
			assert.Equal(t, tc.want, r.Processing.Status, "status must not change after terminal")
			assert.Equal(t, int64(1500), r.Processing.DurationMs)
		})
	}
}

func TestEditRecord_FailRecordsReason(t *testing.T) {
	r := NewEditRecord("e1", "req", "sess", "tpl", time.Now())
	require.NoError(t, r.Fail("object store unavailable", time.Now()))
	assert.Equal(t, "object store unavailable", r.Processing.ErrorReason)
	assert.Nil(t, r.ResultImage)
}

func TestEditRecord_StartOnlyFromPending(t *testing.T) {
	r := NewEditRecord("e1", "req", "sess", "tpl", time.Now())
	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
}
