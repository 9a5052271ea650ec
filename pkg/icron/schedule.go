package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Next       time.Time
	Expression string

	TimeUntilNext time.Duration
}

// GetTriggerInfo parses a cron expression and reports when it will next fire
// relative to refTime. Descriptors like "@hourly" are accepted.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	nextTime := schedule.Next(refTime)

	return &TriggerInfo{
		Expression:    cronExpr,
		Next:          nextTime,
		TimeUntilNext: nextTime.Sub(refTime),
	}, nil
}
