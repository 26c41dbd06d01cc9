package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avt-project/avt/pkg/governance"
)

func alwaysExists(string) bool { return true }
func neverExists(string) bool  { return false }

func TestValidateEvidenceMockModeShortCircuits(t *testing.T) {
	result := ValidateEvidence(governance.ExperimentEvidence{}, EvidenceValidatorOptions{AllowMock: true})
	assert.True(t, result.Valid)
}

func TestValidateEvidenceMissingSourceFails(t *testing.T) {
	result := ValidateEvidence(governance.ExperimentEvidence{Source: "/tmp/does-not-exist-xyz"},
		EvidenceValidatorOptions{SourceExists: neverExists})
	assert.False(t, result.Valid)
	assert.Contains(t, result.Issues[0], "does not exist")
}

func TestValidateEvidenceFutureTimestampBeyond30DaysFails(t *testing.T) {
	future := time.Now().UTC().Add(45 * 24 * time.Hour)
	result := ValidateEvidence(governance.ExperimentEvidence{Source: "s", Timestamp: &future},
		EvidenceValidatorOptions{SourceExists: alwaysExists})
	assert.False(t, result.Valid)
	assert.Contains(t, result.Issues[0], "30 days")
}

func TestValidateEvidenceTimestampBeforeExperimentStartFails(t *testing.T) {
	start := time.Now().UTC()
	before := start.Add(-time.Hour)
	result := ValidateEvidence(governance.ExperimentEvidence{Source: "s", Timestamp: &before},
		EvidenceValidatorOptions{SourceExists: alwaysExists, ExperimentStart: &start})
	assert.False(t, result.Valid)
}

func TestValidateEvidenceTestResultsRequiresPassFailCount(t *testing.T) {
	bad := ValidateEvidence(governance.ExperimentEvidence{
		Type: governance.EvidenceTestResults, Source: "s", RawOutput: "no recognizable summary here",
	}, EvidenceValidatorOptions{SourceExists: alwaysExists})
	assert.False(t, bad.Valid)

	good := ValidateEvidence(governance.ExperimentEvidence{
		Type: governance.EvidenceTestResults, Source: "s", RawOutput: "42 passed, 1 failed, 0 skipped",
	}, EvidenceValidatorOptions{SourceExists: alwaysExists})
	assert.True(t, good.Valid)
}

func TestValidateEvidenceBenchmarkRequiresNumericMeasurementWithUnits(t *testing.T) {
	bad := ValidateEvidence(governance.ExperimentEvidence{
		Type: governance.EvidenceBenchmark, Source: "s", RawOutput: "it got faster",
	}, EvidenceValidatorOptions{SourceExists: alwaysExists})
	assert.False(t, bad.Valid)

	good := ValidateEvidence(governance.ExperimentEvidence{
		Type: governance.EvidenceBenchmark, Source: "s", RawOutput: "p99 latency 12.4ms, throughput 900 req",
	}, EvidenceValidatorOptions{SourceExists: alwaysExists})
	assert.True(t, good.Valid)
}

func TestValidateEvidenceBatchIsValidOnlyIfEveryEntryIsValid(t *testing.T) {
	evidence := []governance.ExperimentEvidence{
		{Type: governance.EvidenceObservation, Source: "s1"},
		{Type: governance.EvidenceObservation, Source: ""},
	}
	result := ValidateEvidenceBatch(evidence, EvidenceValidatorOptions{SourceExists: alwaysExists})
	assert.False(t, result.Valid)
	assert.Contains(t, result.Issues[0], "evidence[1]")
}
