package policy

import (
	"fmt"
	"math"
	"time"
)

func minutes(seconds float64) int {
	return int(math.Round(seconds / 60))
}

func breakStartMessage(sessionSeconds, totalSeconds float64, breakTime time.Duration) string {
	return fmt.Sprintf(
		"You've passed the session limit: %d minutes this session, %d minutes today.\n\n"+
			"Take a break of at least %d minutes. Your eyes and your brain need the rest.\n\n"+
			"Come back refreshed and pick up where you left off.",
		minutes(sessionSeconds), minutes(totalSeconds), minutes(breakTime.Seconds()),
	)
}

func breakActiveMessage(remaining time.Duration) string {
	return fmt.Sprintf(
		"Break time!\n\nThis site is locked for now, for your own good.\n"+
			"Even the algorithm needs to sleep sometimes.\n\n"+
			"(About %d more minutes and it's all yours again.)",
		int(math.Ceil(remaining.Minutes())),
	)
}

func milestoneMessage(sessionSeconds float64, percent int) string {
	return fmt.Sprintf(
		"New milestone!\n\nYou've used %d minutes of this session.\n"+
			"(%d%% of the session limit)\n\n"+
			"Look after yourself and take a break now and then.",
		minutes(sessionSeconds), percent,
	)
}
