package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRelayRequest(t *testing.T) {
	before := testutil.ToFloat64(relayRequests.WithLabelValues("saveFeedback", "warning"))
	RecordRelayRequest("saveFeedback", "warning")
	after := testutil.ToFloat64(relayRequests.WithLabelValues("saveFeedback", "warning"))
	if after-before != 1 {
		t.Errorf("counter delta = %v, want 1", after-before)
	}
}

func TestRecordWindowRejectAndBroadcastFailure(t *testing.T) {
	dropped := testutil.ToFloat64(windowRejected)
	failures := testutil.ToFloat64(broadcastFailures)

	RecordWindowReject()
	RecordBroadcastFailure()
	RecordBroadcastFailure()

	if got := testutil.ToFloat64(windowRejected) - dropped; got != 1 {
		t.Errorf("dropped delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(broadcastFailures) - failures; got != 2 {
		t.Errorf("broadcast failure delta = %v, want 2", got)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
	ObserveStoreWrite("append", 3*time.Millisecond)
	RecordHostDispatch("writeFeedback", "ok")
}
