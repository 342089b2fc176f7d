package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/navcom/groupctl/internal/feedback"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/transport"
)

type jobs []model.RotationJob

func (j jobs) List() []model.RotationJob { return j }

type keyCounts map[model.KeyStatus]int

func (k keyCounts) CountByStatus() map[model.KeyStatus]int { return k }

func TestObserveDiagnostics(t *testing.T) {
	m := New()
	m.Observe(transport.Diagnostic{Kind: transport.DiagFallback, RequestedMode: model.ModeSecure, ResolvedMode: model.ModeBaseline})
	m.Observe(transport.Diagnostic{Kind: transport.DiagFallback, RequestedMode: model.ModeSecure, ResolvedMode: model.ModeBaseline})

	got := testutil.ToFloat64(m.diagnostics.WithLabelValues(string(transport.DiagFallback), string(model.ModeSecure), string(model.ModeBaseline)))
	require.Equal(t, 2.0, got)
}

func TestCommandAndIngestCounters(t *testing.T) {
	m := New()
	m.Command(model.ActionCreate, feedback.Outcome{OK: true})
	m.Command(model.ActionCreate, feedback.Outcome{Reason: feedback.ReasonPermissionDenied})
	m.Ingested(3, 1)
	m.Rotation(true)
	m.Rotation(false)

	require.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("create", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("create", string(feedback.ReasonPermissionDenied))))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ingested.WithLabelValues("applied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rotations.WithLabelValues("failed")))
}

func TestLifecycleCollector(t *testing.T) {
	m := New()
	require.NoError(t, m.RegisterLifecycle(
		jobs{{GroupID: "a", Status: model.JobPending}, {GroupID: "b", Status: model.JobPending}, {GroupID: "c", Status: model.JobFailed}},
		keyCounts{model.KeyActive: 4},
	))

	expected := `
# HELP groupctl_rotation_jobs Rotation jobs by status.
# TYPE groupctl_rotation_jobs gauge
groupctl_rotation_jobs{status="completed"} 0
groupctl_rotation_jobs{status="failed"} 1
groupctl_rotation_jobs{status="pending"} 2
# HELP groupctl_keys_states Registered keys by status.
# TYPE groupctl_keys_states gauge
groupctl_keys_states{status="active"} 4
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "groupctl_rotation_jobs", "groupctl_keys_states"))
}
