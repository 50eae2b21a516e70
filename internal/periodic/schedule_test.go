package periodic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInterval_NextAfter(t *testing.T) {
	i := Interval{Every: 5 * time.Second}
	now := time.Now()
	assert.Equal(t, 5*time.Second, i.NextAfter(now))
	assert.Equal(t, 5*time.Second, i.NextAfter(now.Add(time.Hour)))
}

func TestCronLike_NextAfter_LaterToday(t *testing.T) {
	c := CronLike{AtHour: 10, AtMinute: 30}
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	d := c.NextAfter(now)
	assert.Equal(t, 90*time.Minute, d)
}

func TestCronLike_NextAfter_RollsToTomorrow(t *testing.T) {
	c := CronLike{AtHour: 10, AtMinute: 30}
	now := time.Date(2026, 7, 31, 11, 0, 0, 0, time.UTC)

	d := c.NextAfter(now)
	expected := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC).Sub(now)
	assert.Equal(t, expected, d)
}

func TestSchedule_Monotonic(t *testing.T) {
	// property: for t1 < t2 with no intervening tick, next_after(t1) <= next_after(t2)
	// is trivially satisfied by Interval (constant) and holds for CronLike
	// since both land on the same absolute next fire when within one window.
	c := CronLike{AtHour: 12, AtMinute: 0}
	t1 := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	fire1 := t1.Add(c.NextAfter(t1))
	fire2 := t2.Add(c.NextAfter(t2))
	assert.True(t, !fire2.Before(fire1))
}
