package janitor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/makinacorpus/apubsub-sub000/pkg/janitor"
)

func TestSchedules(t *testing.T) {
	from := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule janitor.Schedule
		want     time.Time
		str      string
	}{
		{"interval", janitor.Every(5 * time.Minute), from.Add(5 * time.Minute), "every 5m0s"},
		{"non-positive interval", janitor.Every(0), from.Add(time.Minute), "every 1m0s"},
		{"hourly later this hour", janitor.HourlyAt(45), time.Date(2024, 3, 10, 14, 45, 0, 0, time.UTC), "hourly at :45"},
		{"hourly next hour", janitor.HourlyAt(30), time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC), "hourly at :30"},
		{"daily today", janitor.DailyAt(18, 0), time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC), "daily at 18:00"},
		{"daily tomorrow", janitor.DailyAt(3, 15), time.Date(2024, 3, 11, 3, 15, 0, 0, time.UTC), "daily at 03:15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.Next(from))
			assert.Equal(t, tt.str, tt.schedule.String())
		})
	}
}
