package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusStringAndParse(t *testing.T) {
	cases := []struct {
		name   string
		status Status
		want   string
	}{
		{"pending", StatusPending, "pending"},
		{"running", StatusRunning, "running"},
		{"stopped", StatusStopped, "stopped"},
		{"pruned", StatusPruned, "pruned"},
		{"unknown", StatusUnknown, "unknown"},
		{"out of range", Status(99), "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.status.String())
		})
	}

	for _, s := range []Status{StatusPending, StatusRunning, StatusStopped, StatusPruned, StatusUnknown} {
		assert.Equal(t, s, ParseStatus(s.String()))
	}

	assert.Equal(t, StatusUnknown, ParseStatus("bogus"))
}

func TestStatusJSONRoundTrip(t *testing.T) {
	data, err := StatusRunning.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"running"`, string(data))

	var s Status
	assert.NoError(t, s.UnmarshalJSON(data))
	assert.Equal(t, StatusRunning, s)
}

func TestStatusIsFinal(t *testing.T) {
	final := map[Status]bool{
		StatusPending: false,
		StatusRunning: false,
		StatusStopped: true,
		StatusPruned:  true,
		StatusUnknown: false,
	}
	for s, want := range final {
		assert.Equal(t, want, s.IsFinal(), "status %v", s)
	}
}
