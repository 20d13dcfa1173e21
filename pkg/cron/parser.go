package cron

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCronExpression = errors.New("invalid cron expression")

// Schedule wraps a parsed cron expression. The trainer uses it to drive
// checkpoint retention sweeps independently of the persist cadence.
type Schedule struct {
	spec cron.Schedule
}

func Parse(expr string) (*Schedule, error) {
	if expr == "" {
		return nil, ErrInvalidCronExpression
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	spec, err := parser.Parse(expr)
	if err != nil {
		return nil, ErrInvalidCronExpression
	}

	return &Schedule{spec: spec}, nil
}

func Validate(expr string) error {
	_, err := Parse(expr)

	return err
}

// Next returns the first activation after from.
func (s *Schedule) Next(from time.Time) time.Time {
	if s == nil || s.spec == nil {
		return time.Time{}
	}

	return s.spec.Next(from)
}
