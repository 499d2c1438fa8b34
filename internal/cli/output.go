package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/normalizer"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

var (
	colorText    = lipgloss.Color("#cdd6f4")
	colorMuted   = lipgloss.Color("#a6adc8")
	colorBorder  = lipgloss.Color("#585b70")
	colorAccent  = lipgloss.Color("#89b4fa")
	colorSuccess = lipgloss.Color("#a6e3a1")
	colorWarning = lipgloss.Color("#f9e2af")
	colorError   = lipgloss.Color("#f38ba8")
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	headingStyle = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	headerStyle  = cellStyle.Foreground(colorAccent).Bold(true)
)

// ErrorPresentation is how an error kind is shown to a person
type ErrorPresentation struct {
	Glyph string
	Label string
}

var errorPresentations = map[model.SyncErrorType]ErrorPresentation{
	model.ErrorAuthentication:       {Glyph: "🔒", Label: "Authentication failed"},
	model.ErrorNetwork:              {Glyph: "🌐", Label: "Network problem"},
	model.ErrorAPI:                  {Glyph: "⚠", Label: "Ledger API error"},
	model.ErrorDataValidation:       {Glyph: "✎", Label: "Invalid data"},
	model.ErrorAmountConversion:     {Glyph: "±", Label: "Amount mismatch"},
	model.ErrorDuplicateTransaction: {Glyph: "⧉", Label: "Duplicate transaction"},
	model.ErrorAccountMapping:       {Glyph: "⇄", Label: "Account mapping problem"},
	model.ErrorDatabase:             {Glyph: "⛁", Label: "State store error"},
	model.ErrorConfiguration:        {Glyph: "⚙", Label: "Configuration problem"},
	model.ErrorRateLimited:          {Glyph: "⏳", Label: "Rate limited"},
	model.ErrorUnknown:              {Glyph: "?", Label: "Unexpected error"},
}

// PresentError maps an error kind to its glyph and label
func PresentError(t model.SyncErrorType) ErrorPresentation {
	if p, ok := errorPresentations[t]; ok {
		return p
	}
	return errorPresentations[model.ErrorUnknown]
}

var statusGlyphs = map[model.SyncTransactionStatus]string{
	model.StatusSynced:    "✓",
	model.StatusWouldSync: "~",
	model.StatusDuplicate: "=",
	model.StatusSkipped:   "-",
	model.StatusFailed:    "✗",
	model.StatusPending:   "…",
}

func styledStatus(s model.SyncTransactionStatus) string {
	text := statusGlyphs[s] + " " + string(s)
	switch s {
	case model.StatusSynced, model.StatusWouldSync:
		return successStyle.Render(text)
	case model.StatusFailed:
		return errorStyle.Render(text)
	case model.StatusSkipped:
		return warningStyle.Render(text)
	default:
		return mutedStyle.Render(text)
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// Report renders run results for a terminal
type Report struct {
	// SourceUnitsPerMajor scales source amounts for display
	SourceUnitsPerMajor int64
	// ConfidenceThreshold selects low-confidence matches for the review queue
	ConfidenceThreshold float64
}

// PrintHeader prints the application header
func PrintHeader(w io.Writer, profile string, dryRun bool) {
	mode := "PRODUCTION"
	if dryRun {
		mode = "DRY-RUN"
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("upsync: %s (%s mode)", profile, mode)))
}

// PrintSyncResult prints per-account results, the summary, errors and the review queue
func (r Report) PrintSyncResult(w io.Writer, result *model.SyncResult) {
	PrintHeader(w, result.ProfileID, result.DryRun)
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("Run %s | %s to %s",
		result.RunID,
		result.Range.Start.Format(normalizer.DateLayout),
		result.Range.End.Format(normalizer.DateLayout))))

	for _, acct := range result.Accounts {
		fmt.Fprintln(w)
		r.printAccount(w, acct)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, mutedStyle.Render(strings.Repeat("-", 60)))
	s := result.Summary
	summary := fmt.Sprintf("Summary: Processed=%d Synced=%d Duplicate=%d Skipped=%d Failed=%d",
		s.TotalProcessed, s.Synced, s.Duplicate, s.Skipped, s.Failed)
	if result.DryRun {
		summary += fmt.Sprintf(" WouldSync=%d", s.WouldSync)
	}
	fmt.Fprintln(w, headingStyle.Render(summary))
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("Accounts=%d Aborted=%d Success rate=%.1f%% Duration=%s",
		s.TotalAccounts, s.AbortedAccounts, s.SuccessRate*100, s.Duration.Round(time.Millisecond))))

	if len(result.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headingStyle.Render("Errors:"))
		for _, e := range result.Errors {
			fmt.Fprintln(w, "  "+FormatError(e))
		}
	}

	r.PrintReviewQueue(w, model.BuildReviewQueue(result, r.ConfidenceThreshold))

	fmt.Fprintln(w)
	switch {
	case !result.IsSuccess():
		fmt.Fprintln(w, errorStyle.Render("Sync finished with critical errors."))
	case result.DryRun:
		fmt.Fprintln(w, successStyle.Render("Dry run complete. No changes were made."))
	default:
		fmt.Fprintln(w, successStyle.Render("Sync completed successfully."))
	}
}

func (r Report) printAccount(w io.Writer, acct model.AccountSyncResult) {
	title := fmt.Sprintf("%s → %s", acct.Mapping.Source.DisplayName, acct.Mapping.Destination.DisplayName)
	state := mutedStyle.Render("[" + string(acct.State) + "]")
	if acct.State == model.AccountAborted {
		state = errorStyle.Render("[" + string(acct.State) + "]")
	}
	fmt.Fprintln(w, headingStyle.Render(title)+" "+state)

	if len(acct.Results) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no transactions"))
		return
	}

	t := newTable("Status", "Date", "Amount", "Payee", "Note")
	for _, res := range acct.Results {
		date := ""
		if res.Source.SettledAt != nil {
			date = res.Source.SettledAt.Format(normalizer.DateLayout)
		}
		payee := res.PayeeName
		if payee == "" {
			payee = res.Source.Description
		}
		t.Row(
			styledStatus(res.Status),
			date,
			normalizer.FormatAmount(res.Source.Amount, r.SourceUnitsPerMajor),
			payee,
			resultNote(res),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func resultNote(res model.SyncedTransactionResult) string {
	switch {
	case res.Error != nil:
		return FormatError(res.Error)
	case res.SkipReason != "":
		return res.SkipReason
	case res.RuleName != "":
		return fmt.Sprintf("rule %s (%.2f)", res.RuleName, res.Confidence)
	default:
		return ""
	}
}

// FormatError renders an error with its kind's glyph and label
func FormatError(e *model.SyncError) string {
	if e == nil {
		return ""
	}
	p := PresentError(e.Type)
	text := fmt.Sprintf("%s %s: %s", p.Glyph, p.Label, e.Message)
	if e.Critical {
		return errorStyle.Render(text)
	}
	return warningStyle.Render(text)
}

// PrintReviewQueue prints the items needing attention, if any
func (r Report) PrintReviewQueue(w io.Writer, items []model.ReviewItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render(fmt.Sprintf("Needs review (%d):", len(items))))

	t := newTable("Reason", "Account", "Date", "Amount", "Description", "Detail")
	for _, item := range items {
		amount := ""
		if item.TransactionID != "" {
			amount = normalizer.FormatAmount(item.Amount, r.SourceUnitsPerMajor)
		}
		t.Row(string(item.Reason), item.AccountName, item.Date, amount, item.Description, item.Message)
	}
	fmt.Fprintln(w, t.Render())
}

// PrintRuns prints a run history table
func PrintRuns(w io.Writer, runs []storage.SyncRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No sync runs recorded."))
		return
	}

	t := newTable("Run", "Profile", "Started", "Status", "Processed", "Synced", "Duplicate", "Failed", "Dry run")
	for _, run := range runs {
		status := run.Status
		if status == storage.RunStatusFailed {
			status = errorStyle.Render(status)
		}
		dry := ""
		if run.DryRun {
			dry = "yes"
		}
		t.Row(
			run.ID,
			run.ProfileID,
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			status,
			fmt.Sprint(run.Processed),
			fmt.Sprint(run.Synced),
			fmt.Sprint(run.Duplicate),
			fmt.Sprint(run.Failed),
			dry,
		)
	}
	fmt.Fprintln(w, t.Render())
}

// PrintAccounts prints one ledger's accounts, marking the mapped ones
func PrintAccounts(w io.Writer, title string, accounts []model.Account, unitsPerMajor int64, mapped map[string]bool) {
	fmt.Fprintln(w, titleStyle.Render(title))
	if len(accounts) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no accounts"))
		return
	}

	t := newTable("ID", "Name", "Type", "Balance", "Mapped")
	for _, a := range accounts {
		mark := ""
		if mapped[a.ID] {
			mark = successStyle.Render("✓")
		}
		name := a.Name
		if a.Closed {
			name += mutedStyle.Render(" (closed)")
		}
		t.Row(a.ID, name, a.Type, normalizer.FormatAmount(a.Balance, unitsPerMajor), mark)
	}
	fmt.Fprintln(w, t.Render())
}

// Check is one line of the health report
type Check struct {
	Name   string
	Err    error
	Detail string
}

// PrintHealth prints the health checks and returns whether all passed
func PrintHealth(w io.Writer, checks []Check) bool {
	ok := true
	for _, c := range checks {
		if c.Err != nil {
			ok = false
			fmt.Fprintf(w, "%s %s: %v\n", errorStyle.Render("✗"), c.Name, c.Err)
			continue
		}
		line := fmt.Sprintf("%s %s", successStyle.Render("✓"), c.Name)
		if c.Detail != "" {
			line += " " + mutedStyle.Render(c.Detail)
		}
		fmt.Fprintln(w, line)
	}
	return ok
}
