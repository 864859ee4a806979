/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestViolationsOpenedTotal_IncrementsByCode(t *testing.T) {
	before := testutil.ToFloat64(ViolationsOpenedTotal.WithLabelValues("missed"))
	ViolationsOpenedTotal.WithLabelValues("missed").Inc()
	after := testutil.ToFloat64(ViolationsOpenedTotal.WithLabelValues("missed"))
	assert.Equal(t, before+1, after)
}

func TestNotifierSendTotal_TracksSinkAndResult(t *testing.T) {
	before := testutil.ToFloat64(NotifierSendTotal.WithLabelValues("slack", "success"))
	NotifierSendTotal.WithLabelValues("slack", "success").Inc()
	after := testutil.ToFloat64(NotifierSendTotal.WithLabelValues("slack", "success"))
	assert.Equal(t, before+1, after)
}

func TestCheckerTicksTotal_Increments(t *testing.T) {
	before := testutil.ToFloat64(CheckerTicksTotal)
	CheckerTicksTotal.Inc()
	after := testutil.ToFloat64(CheckerTicksTotal)
	assert.Equal(t, before+1, after)
}
