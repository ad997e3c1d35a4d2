package diagnostic

import "github.com/nyashahama/consulting-leads-backend/internal/lead"

// ─── QUESTIONS ───────────────────────────────────────────────────────────────

// Question ids accepted in a submission's answer set.
const (
	QuestionChallenge = "primary_challenge"
	QuestionTeamSize  = "team_size"
	QuestionTooling   = "tooling"
	QuestionReporting = "reporting_cadence"
)

// points maps every enumerated answer to its maturity contribution (0–10).
// Unknown answers are rejected, never scored as zero.
var points = map[string]map[string]int{
	QuestionChallenge: {
		"manual_processes":   3,
		"scaling_team":       5,
		"data_visibility":    4,
		"customer_retention": 6,
		"cash_flow":          2,
	},
	QuestionTeamSize: {
		"1-10":   4,
		"11-50":  6,
		"51-200": 7,
		"200+":   8,
	},
	QuestionTooling: {
		"spreadsheets": 2,
		"mixed":        5,
		"integrated":   9,
	},
	QuestionReporting: {
		"never":   1,
		"monthly": 4,
		"weekly":  7,
		"daily":   10,
	},
}

// ─── DERIVATION TABLES ───────────────────────────────────────────────────────

var challengeByAnswer = map[string]string{
	"manual_processes":   "Manual, repetitive processes",
	"scaling_team":       "Scaling the team without losing quality",
	"data_visibility":    "Poor visibility into operational data",
	"customer_retention": "Customer retention and churn",
	"cash_flow":          "Cash flow predictability",
}

var quickWinsByChallenge = map[string][]lead.QuickWin{
	"manual_processes": {
		{Action: "Map your top three recurring tasks", Description: "Time each one for a week; the longest is your first automation candidate."},
		{Action: "Template the handoffs", Description: "Write a one-page checklist for every task that crosses two people."},
	},
	"scaling_team": {
		{Action: "Document the critical path", Description: "Record how your best person does the three jobs new hires get wrong."},
		{Action: "Set a 30-day onboarding scorecard", Description: "Agree on what a new hire must own by day 30 and review it weekly."},
	},
	"data_visibility": {
		{Action: "Pick five numbers", Description: "Choose the five metrics that would change a decision and nothing else."},
		{Action: "Automate one weekly report", Description: "Pull it straight from the source system instead of rebuilding it by hand."},
	},
	"customer_retention": {
		{Action: "Call your last five churned customers", Description: "Ask what almost made them stay; patterns show up after three calls."},
		{Action: "Add a 60-day check-in", Description: "Most churn decisions are made in month two; get ahead of them."},
	},
	"cash_flow": {
		{Action: "Build a 13-week cash view", Description: "Update it every Monday; it turns surprises into decisions."},
		{Action: "Shorten invoice terms for new work", Description: "Move new contracts to 15-day terms with a deposit."},
	},
}

var extraQuickWinByTooling = map[string]lead.QuickWin{
	"spreadsheets": {Action: "Consolidate your spreadsheets", Description: "Pick one source of truth per process and archive the copies."},
	"mixed":        {Action: "Connect your two most-used tools", Description: "A single integration usually removes a full day of re-keying per month."},
}

// MaxQuickWins caps the recommendations stored on a lead.
const MaxQuickWins = 3

// ─── LEVELS & ROI ────────────────────────────────────────────────────────────

// Maturity levels, lowest first.
const (
	LevelCritical    = "critical"
	LevelDeveloping  = "developing"
	LevelEstablished = "established"
	LevelAdvanced    = "advanced"
)

// levelThresholds are checked in order; the first whose floor the score
// reaches wins.
var levelThresholds = []struct {
	floor float64
	level string
}{
	{80, LevelAdvanced},
	{60, LevelEstablished},
	{40, LevelDeveloping},
	{0, LevelCritical},
}

var roiByLevel = map[string]lead.EstimatedROI{
	LevelCritical:    {TimeToValueDays: 90, ExpectedReturnPct: 300},
	LevelDeveloping:  {TimeToValueDays: 60, ExpectedReturnPct: 200},
	LevelEstablished: {TimeToValueDays: 45, ExpectedReturnPct: 150},
	LevelAdvanced:    {TimeToValueDays: 30, ExpectedReturnPct: 100},
}

// timeToValueAdjustByTeamSize shifts the time-to-value estimate; larger
// teams take longer to change.
var timeToValueAdjustByTeamSize = map[string]int{
	"1-10":   -15,
	"11-50":  0,
	"51-200": 15,
	"200+":   30,
}
