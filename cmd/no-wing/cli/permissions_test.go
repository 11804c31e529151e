package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/elevation"
)

func TestRenderElevationResultSuccess(t *testing.T) {
	var buf bytes.Buffer
	result := elevation.Result{
		Success:  true,
		Method:   core.MethodRoleSwitch,
		Message:  "operating as reader until 2026-08-28T11:00:00Z",
		RiskTier: core.RiskLow,
	}

	if err := renderElevationResult(&buf, result, "text"); err != nil {
		t.Fatalf("rendering: %v", err)
	}
	if !strings.Contains(buf.String(), "operating as reader") {
		t.Errorf("message missing from output: %q", buf.String())
	}
}

func TestRenderElevationResultFailureReturnsError(t *testing.T) {
	var buf bytes.Buffer
	result := elevation.Result{
		Success:   false,
		Method:    core.MethodApprovalRequired,
		Message:   "high-risk operation requires approval",
		RequestID: "req-1",
		RiskTier:  core.RiskHigh,
	}

	err := renderElevationResult(&buf, result, "text")
	if err == nil {
		t.Fatal("expected an error for a non-permitted operation")
	}
	if !strings.Contains(err.Error(), "not permitted") {
		t.Errorf("unexpected error: %v", err)
	}
	// The human-readable summary is still printed before the error.
	if !strings.Contains(buf.String(), "req-1") {
		t.Errorf("request id missing from output: %q", buf.String())
	}
}

func TestRenderElevationResultJSON(t *testing.T) {
	var buf bytes.Buffer
	result := elevation.Result{
		Success:   false,
		Method:    core.MethodApprovalRequired,
		Message:   "high-risk operation requires approval",
		RequestID: "req-1",
		RiskTier:  core.RiskHigh,
	}

	if err := renderElevationResult(&buf, result, "json"); err == nil {
		t.Fatal("expected an error for a non-permitted operation")
	}
	if !strings.Contains(buf.String(), `"request_id": "req-1"`) {
		t.Errorf("JSON body missing request id: %q", buf.String())
	}
}

func TestRenderElevationResultRejectsUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := renderElevationResult(&buf, elevation.Result{Success: true}, "yaml")
	if err == nil {
		t.Fatal("expected unknown format to be rejected")
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be printed for a rejected format, got %q", buf.String())
	}
}
