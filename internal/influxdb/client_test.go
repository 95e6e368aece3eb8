package influxdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envira-service/internal/models"
)

func TestNewPoint(t *testing.T) {
	r := models.Reading{Timestamp: "2026-05-01 12:30:00", PM25: 12.34, GasSmoothed: 4.56}
	p := NewPoint(r)

	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, time.Date(2026, 5, 1, 12, 30, 0, 0, time.Local), p.Time())

	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "source", p.TagList()[0].Key)
	assert.Equal(t, models.SourceRealSensor, p.TagList()[0].Value)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 12.34, fields["pm25_ug_m3"])
	assert.Equal(t, 4.56, fields["gas_ppm"])
}

func TestNewPoint_BadTimestampUsesNow(t *testing.T) {
	before := time.Now().Add(-time.Second)
	p := NewPoint(models.Reading{Timestamp: "not a time"})
	assert.True(t, p.Time().After(before))
}
