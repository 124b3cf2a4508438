// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEmbeddingBatch(t *testing.T) {
	before := testutil.ToFloat64(EmbeddingsGenerated.WithLabelValues("library"))
	RecordEmbeddingBatch("library", 120*time.Millisecond, 7)
	after := testutil.ToFloat64(EmbeddingsGenerated.WithLabelValues("library"))

	if after-before != 7 {
		t.Errorf("EmbeddingsGenerated delta = %v, want 7", after-before)
	}
}

func TestRecordCatalogSync(t *testing.T) {
	RecordCatalogSync(2*time.Second, 1234, false)
	if got := testutil.ToFloat64(CatalogEntries); got != 1234 {
		t.Errorf("CatalogEntries = %v, want 1234", got)
	}

	RecordCatalogSync(time.Second, 1300, true)
	if got := testutil.ToFloat64(CatalogLastSync); got <= 0 {
		t.Errorf("CatalogLastSync = %v, want a timestamp", got)
	}
}

func TestSetANNReady(t *testing.T) {
	tests := []struct {
		name  string
		ready bool
		size  int
		want  float64
	}{
		{name: "ready", ready: true, size: 42, want: 1},
		{name: "degraded", ready: false, size: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetANNReady(tt.ready, tt.size)
			if got := testutil.ToFloat64(ANNReady); got != tt.want {
				t.Errorf("ANNReady = %v, want %v", got, tt.want)
			}
			if got := testutil.ToFloat64(ANNSize); got != float64(tt.size) {
				t.Errorf("ANNSize = %v, want %d", got, tt.size)
			}
		})
	}
}

func TestRecordCompute(t *testing.T) {
	before := testutil.ToFloat64(ComputeRuns.WithLabelValues("cached"))
	RecordCompute("cached", 0)
	if got := testutil.ToFloat64(ComputeRuns.WithLabelValues("cached")); got != before+1 {
		t.Errorf("ComputeRuns{cached} = %v, want %v", got, before+1)
	}
}
