package pipeline

import (
	"fmt"
	"math/rand"
	"strings"
)

// Every pipeline abort produces exactly one reply on the same channel; these
// builders keep the wording in one place.

const (
	replyUpgrade = "Your subscription is not active. Upgrade your plan to keep receiving transcriptions."

	replyDownloadFailed = "We couldn't download this voice note. Please try sending it again."

	replyProcessingFailed = "Something went wrong while processing this voice note. Please try again in a moment."
)

// trialPromos is the fixed pool appended to trial-tier replies.
var trialPromos = []string{
	"Enjoying the transcriptions? Upgrade for more minutes every month.",
	"You're on the free trial. Paid plans include summaries and longer audio.",
	"Tip: upgrading unlocks higher monthly limits and priority processing.",
}

func replyQuotaExhausted() string {
	return "You've used up your transcription minutes for this month. Upgrade your plan or wait until next month."
}

func replyQuotaInsufficient(remainingMinutes float64) string {
	return fmt.Sprintf(
		"This voice note is longer than your remaining quota (%s minutes left this month).",
		formatMinutes(remainingMinutes),
	)
}

func replyTooLong(maxSeconds int) string {
	return fmt.Sprintf(
		"This voice note exceeds the maximum length for your plan (%d seconds). Send a shorter note or upgrade.",
		maxSeconds,
	)
}

// composeReply builds the single success message: transcription, optional
// summary, remaining quota, and the trial promo footer.
func composeReply(text, summary string, remainingMinutes float64, trial bool) string {
	var b strings.Builder

	b.WriteString("📝 ")
	b.WriteString(text)

	if summary != "" {
		b.WriteString("\n\n✨ Summary:\n")
		b.WriteString(summary)
	}

	b.WriteString(fmt.Sprintf("\n\n⏳ %s minutes remaining this month.", formatMinutes(remainingMinutes)))

	if trial {
		b.WriteString("\n\n")
		b.WriteString(trialPromos[rand.Intn(len(trialPromos))])
	}

	return b.String()
}

// formatMinutes renders whole minutes without a decimal point so "298"
// reads naturally, and fractional remainders with one digit.
func formatMinutes(minutes float64) string {
	if minutes == float64(int64(minutes)) {
		return fmt.Sprintf("%d", int64(minutes))
	}
	return fmt.Sprintf("%.1f", minutes)
}
