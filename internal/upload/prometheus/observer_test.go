package prometheus

import (
	"errors"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverRecordsCounters(t *testing.T) {
	reg := promclient.NewRegistry()
	o, err := NewPrometheusObserver("test_uploads", reg)
	require.NoError(t, err)

	o.RecordUpload(100*time.Millisecond, 2048, nil)
	o.RecordUpload(50*time.Millisecond, 512, errors.New("boom"))
	o.RecordCancel()
	o.RecordCancel()
	o.RecordSweep(3)
	o.RecordCommit(nil)
	o.RecordCommit(errors.New("boom"))

	assert.Equal(t, float64(2048), testutil.ToFloat64(o.uploadBytes),
		"failed uploads must not count bytes")
	assert.Equal(t, float64(2), testutil.ToFloat64(o.cancellations))
	assert.Equal(t, float64(3), testutil.ToFloat64(o.sweptOrphans))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.operationErrors.WithLabelValues("upload")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.operationErrors.WithLabelValues("commit")))
}

func TestObserverSurvivesDoubleRegistration(t *testing.T) {
	reg := promclient.NewRegistry()
	_, err := NewPrometheusObserver("test_uploads", reg)
	require.NoError(t, err)

	again, err := NewPrometheusObserver("test_uploads", reg)
	require.NoError(t, err, "re-registration adopts the existing collectors")
	again.RecordCancel()
}

func TestNilObserverIsSafe(t *testing.T) {
	var o *PrometheusObserver
	o.RecordUpload(time.Second, 1, nil)
	o.RecordCommit(nil)
	o.RecordCancel()
	o.RecordSweep(1)
	o.RecordOrphanDelete(time.Second, nil)
}
