package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSubmittedAndResolved(t *testing.T) {
	beforePending := testutil.ToFloat64(pending)
	beforeEmpty := testutil.ToFloat64(submissions.WithLabelValues("empty"))

	Submitted(true)
	Submitted(false)
	assert.Equal(t, beforePending+1, testutil.ToFloat64(pending))
	assert.Equal(t, beforeEmpty+1, testutil.ToFloat64(submissions.WithLabelValues("empty")))

	beforeFailed := testutil.ToFloat64(fetches.WithLabelValues(OutcomeFailed))
	Resolved(OutcomeFailed, 300*time.Millisecond)
	assert.Equal(t, beforePending, testutil.ToFloat64(pending))
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(fetches.WithLabelValues(OutcomeFailed)))
}

func TestSessionGauge(t *testing.T) {
	before := testutil.ToFloat64(sessions)

	SessionCreated()
	SessionCreated()
	SessionsDeleted(2)
	assert.Equal(t, before, testutil.ToFloat64(sessions))
}
