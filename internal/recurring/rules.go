// Package recurring evaluates calendar rules and synthesizes tasks for
// fixed weekly and monthly occasions.
package recurring

import (
	"strconv"
	"strings"
	"time"
)

// WeeklyRule fires at a fixed weekday and time, producing a task with
// a fixed body for the recipient bound to its selector.
type WeeklyRule struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
	Spec     string `yaml:"spec"` // 5-field cron, e.g. "0 10 * * 1"
	Body     string `yaml:"body"`
}

// MonthlyRule fires on a fixed day of the month, or on the last
// calendar day when LastDay is set. The body may reference the firing
// day with "{day}".
type MonthlyRule struct {
	Name      string   `yaml:"name"`
	Day       int      `yaml:"day,omitempty"`
	LastDay   bool     `yaml:"last_day,omitempty"`
	Selectors []string `yaml:"selectors"`
	Body      string   `yaml:"body"`
}

// Rules is the full recurring calendar.
type Rules struct {
	Weekly  []WeeklyRule  `yaml:"weekly"`
	Monthly []MonthlyRule `yaml:"monthly"`
}

// DefaultRules returns the built-in calendar: the lead recipient gets
// the weekly push/archive/report reminders plus mid-month and
// month-end billing, and the sales recipients share the monthly
// payment cadence.
func DefaultRules() Rules {
	return Rules{
		Weekly: []WeeklyRule{
			{
				Name:     "monday_push_clients",
				Selector: "lead",
				Spec:     "0 10 * * 1",
				Body:     "Push the clients that never reached payment, and close them out.",
			},
			{
				Name:     "saturday_archive_work",
				Selector: "lead",
				Spec:     "0 19 * * 6",
				Body:     "Archive all finished work for the week so nothing gets lost.",
			},
			{
				Name:     "saturday_weekly_report",
				Selector: "lead",
				Spec:     "30 19 * * 6",
				Body:     "Send the weekly report: designers, clients, and overall progress.",
			},
		},
		Monthly: []MonthlyRule{
			{
				Name:      "midmonth_billing",
				Day:       15,
				Selectors: []string{"lead"},
				Body:      "Check which clients still have unfinished payments and remind them. Also calculate designer payouts for days 1-15.",
			},
			{
				Name:      "monthend_billing",
				LastDay:   true,
				Selectors: []string{"lead"},
				Body:      "Check which clients still have unfinished payments and remind them. Also calculate designer payouts for days 16-{day}.",
			},
			{
				Name:      "invoice_clients",
				Day:       1,
				Selectors: []string{"sales_a", "sales_b"},
				Body:      "Day 1: push clients for payments and send out invoices.",
			},
			{
				Name:      "check_payments",
				Day:       5,
				Selectors: []string{"sales_a", "sales_b"},
				Body:      "Day 5: review payments and push everyone who has not paid.",
			},
			{
				Name:      "half_payment_push",
				Day:       15,
				Selectors: []string{"sales_a", "sales_b"},
				Body:      "Day 15: push clients for the 50% payment.",
			},
			{
				Name:      "half_payment_check",
				Day:       20,
				Selectors: []string{"sales_a", "sales_b"},
				Body:      "Day 20: review 50% payments and push everyone who has not paid.",
			},
			{
				Name:      "monthend_tables",
				LastDay:   true,
				Selectors: []string{"sales_a", "sales_b"},
				Body:      "Push your designers to log every creative into the tables and projects today; month totals close tomorrow.",
			},
		},
	}
}

// renderBody substitutes the firing day into the rule body.
func renderBody(body string, day int) string {
	return strings.ReplaceAll(body, "{day}", strconv.Itoa(day))
}

// lastDayOfMonth returns the number of days in t's month, handling
// 28/29/30/31-day months including leap-year February.
func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
