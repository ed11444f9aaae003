package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRawRecordMissingFields(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{"conversion_time", "transaction_id", "email", "phone", "conversion_name", "currency_code", "value"},
		RawRecord{}.MissingFields())

	full := RawRecord{
		ConversionTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		TransactionID:  "T-1",
		Email:          "e",
		Phone:          "p",
		ConversionName: "purchase",
		CurrencyCode:   "USD",
		Value:          Float(0),
	}
	assert.Empty(t, full.MissingFields(), "zero value is present, click id is optional")
}

func TestClickIDKindValid(t *testing.T) {
	assert.True(t, ClickIDKind("").Valid())
	assert.True(t, ClickGBRAID.Valid())
	assert.False(t, ClickIDKind("fbclid").Valid())
}

func TestMappedEventClickID(t *testing.T) {
	id, kind := MappedEvent{Wbraid: "w"}.ClickID()
	assert.Equal(t, "w", id)
	assert.Equal(t, ClickWBRAID, kind)

	id, kind = MappedEvent{}.ClickID()
	assert.Empty(t, id)
	assert.Empty(t, kind)
}

func TestPipelineReportFinalize(t *testing.T) {
	tests := []struct {
		name   string
		report PipelineReport
		want   RunStatus
	}{
		{"clean", PipelineReport{}, RunCompleted},
		{"errors", PipelineReport{Errors: []RecordError{{Index: 1}}}, RunCompletedWithError},
		{"exhausted", PipelineReport{RoundsExhausted: true, Errors: []RecordError{{Index: 1}}}, RunRoundsExhausted},
		{"failed", PipelineReport{Failure: "boom", RoundsExhausted: true}, RunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.report.Finalize()
			assert.Equal(t, tt.want, tt.report.Status)
		})
	}
}
