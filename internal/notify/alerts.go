package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AlertConfig holds the thresholds for the batch alert sweep. Defaults match
// Defaults().
type AlertConfig struct {
	LookbackDays        int
	LowAttendancePct    float64
	ExpiringCodesWindow time.Duration
	MaxSections         int
	MaxCredits          int
}

// Defaults returns the standard alert thresholds.
func Defaults() AlertConfig {
	return AlertConfig{
		LookbackDays:        7,
		LowAttendancePct:    75,
		ExpiringCodesWindow: 30 * time.Minute,
		MaxSections:         5,
		MaxCredits:          18,
	}
}

// SectionRate is a section's aggregate regular attendance over the lookback.
type SectionRate struct {
	SectionID   string
	SectionName string
	Present     int
	Total       int
}

// FacultyContact identifies an alert recipient.
type FacultyContact struct {
	Name  string
	Email string
}

// FacultyLoad is one faculty member's current teaching load.
type FacultyLoad struct {
	Contact  FacultyContact
	Sections int
	Credits  int
}

// ExpiringCode is an unused code whose expiry falls inside the look-ahead.
type ExpiringCode struct {
	Token       string
	SectionName string
	Scheduler   FacultyContact
	ExpiresAt   time.Time
}

// AlertSource supplies the aggregates the sweep evaluates. Implemented by the
// Postgres repo; fakes stand in for tests.
type AlertSource interface {
	SectionRates(ctx context.Context, since time.Time) ([]SectionRate, error)
	FacultyForSection(ctx context.Context, sectionID string) ([]FacultyContact, error)
	FacultyLoads(ctx context.Context) ([]FacultyLoad, error)
	ExpiringCodes(ctx context.Context, now time.Time, window time.Duration) ([]ExpiringCode, error)
}

// AlertSender is the slice of Publisher the checker needs.
type AlertSender interface {
	FacultyAlert(ctx context.Context, email, subject, message string) error
}

// Checker runs the periodic alert sweep: low attendance, expiring codes,
// faculty overload. It evaluates conditions and hands off messages; it never
// delivers.
type Checker struct {
	source AlertSource
	sender AlertSender
	cfg    AlertConfig
	now    func() time.Time
}

// NewChecker builds a checker with the given thresholds.
func NewChecker(source AlertSource, sender AlertSender, cfg AlertConfig) *Checker {
	return &Checker{source: source, sender: sender, cfg: cfg, now: time.Now}
}

// Run executes all three checks and returns the number of alerts queued.
func (c *Checker) Run(ctx context.Context) (int, error) {
	sent := 0
	n, err := c.checkLowAttendance(ctx)
	if err != nil {
		return sent, err
	}
	sent += n
	n, err = c.checkExpiringCodes(ctx)
	if err != nil {
		return sent, err
	}
	sent += n
	n, err = c.checkFacultyOverload(ctx)
	if err != nil {
		return sent, err
	}
	return sent + n, nil
}

func (c *Checker) checkLowAttendance(ctx context.Context) (int, error) {
	since := c.now().AddDate(0, 0, -c.cfg.LookbackDays)
	rates, err := c.source.SectionRates(ctx, since)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rate := range rates {
		if rate.Total == 0 {
			continue
		}
		pct := float64(rate.Present) / float64(rate.Total) * 100
		if pct >= c.cfg.LowAttendancePct {
			continue
		}
		faculty, err := c.source.FacultyForSection(ctx, rate.SectionID)
		if err != nil {
			return sent, err
		}
		msg := fmt.Sprintf(
			"Section %s has low attendance: %.1f%% (%d records in the last %d days). Consider follow-up with students.",
			rate.SectionName, pct, rate.Total, c.cfg.LookbackDays)
		for _, f := range faculty {
			if err := c.sender.FacultyAlert(ctx, f.Email, "Low Attendance Alert", msg); err != nil {
				return sent, err
			}
			sent++
		}
	}
	return sent, nil
}

func (c *Checker) checkExpiringCodes(ctx context.Context) (int, error) {
	codes, err := c.source.ExpiringCodes(ctx, c.now(), c.cfg.ExpiringCodesWindow)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, code := range codes {
		if code.Scheduler.Email == "" {
			continue
		}
		msg := fmt.Sprintf(
			"Remedial code %s for the %s make-up class expires at %s. Students must mark attendance before it expires.",
			code.Token, code.SectionName, code.ExpiresAt.Format("2006-01-02 15:04"))
		if err := c.sender.FacultyAlert(ctx, code.Scheduler.Email, "Make-Up Code Expiring Soon", msg); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (c *Checker) checkFacultyOverload(ctx context.Context) (int, error) {
	loads, err := c.source.FacultyLoads(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, load := range loads {
		var reasons []string
		if load.Sections >= c.cfg.MaxSections {
			reasons = append(reasons, fmt.Sprintf("%d sections (max %d)", load.Sections, c.cfg.MaxSections))
		}
		if load.Credits >= c.cfg.MaxCredits {
			reasons = append(reasons, fmt.Sprintf("%d credits (max %d)", load.Credits, c.cfg.MaxCredits))
		}
		if len(reasons) == 0 {
			continue
		}
		msg := fmt.Sprintf(
			"Your teaching load may be high: %s. Consider discussing workload with administration.",
			strings.Join(reasons, ", "))
		if err := c.sender.FacultyAlert(ctx, load.Contact.Email, "Faculty Workload Warning", msg); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
