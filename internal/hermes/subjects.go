package hermes

const (
	StreamName     = "TAILGATE_EVENTS"
	StreamSubjects = "tailgate.>"
	StreamMaxAge   = "720h" // 30 days
)

func SubjectTailRecorded(betID string) string { return "tailgate.tail." + betID + ".recorded" }

func SubjectChallengeStarted(challengeID string) string {
	return "tailgate.challenge." + challengeID + ".started"
}
func SubjectChallengeEnded(challengeID string) string {
	return "tailgate.challenge." + challengeID + ".ended"
}
func SubjectRanksRecalculated(challengeID string) string {
	return "tailgate.challenge." + challengeID + ".ranks"
}

func SubjectBetCreated(betID string) string { return "tailgate.bet." + betID + ".created" }
func SubjectBetClosed(betID string) string  { return "tailgate.bet." + betID + ".closed" }

func SubjectNotify(userID string) string { return "tailgate.notify." + userID }
