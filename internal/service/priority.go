package service

import (
	"math"
	"time"
)

const (
	severityWeight = 10.0
	waitWeight     = 0.5
)

// WaitHours is the time a case has waited, never negative under clock skew.
func WaitHours(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	hours := now.Sub(createdAt).Hours()
	if hours < 0 {
		return 0
	}
	return hours
}

// PriorityScore combines severity and wait time: level*10 + waitHours*0.5, so one
// severity level is worth 20 hours of waiting. The result is rounded to 2 decimals.
func PriorityScore(level int, createdAt, now time.Time) float64 {
	return round(float64(level)*severityWeight+WaitHours(createdAt, now)*waitWeight, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
