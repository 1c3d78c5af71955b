package guardrail

import (
	"regexp"
	"strings"
)

// GoalClassifier infers goal flags from the text of a user message. The
// keyword implementation below is heuristic on purpose; anything smarter
// can be swapped in behind this interface without touching the guardrail
// or the turn controller.
type GoalClassifier interface {
	Classify(message string) Goal
}

// KeywordClassifier is the default, pattern-based classifier
type KeywordClassifier struct{}

var (
	searchIntentPattern = regexp.MustCompile(`(?i)\b(search|find|look up|lookup|latest|recent|news|papers?|publications?|research|what happened|who won)\b`)
	artifactDocPattern  = regexp.MustCompile(`(?i)\b(write|draft|create|generate|produce|prepare)\b.*\b(report|document|summary|essay|article|post|notes?|presentation)\b`)
	artifactCodePattern = regexp.MustCompile(`(?i)\b(write|create|generate|implement)\b.*\b(script|code|program|function|module)\b`)
	downloadPattern     = regexp.MustCompile(`(?i)\b(download|save|grab|fetch)\b`)
	transcriptPattern   = regexp.MustCompile(`(?i)\b(transcript|transcribe|captions?|subtitles?)\b`)
	summaryPattern      = regexp.MustCompile(`(?i)\b(summar(y|ize|ise)|tl;?dr|key points)\b`)
	mediaURLPattern     = regexp.MustCompile(`(?i)https?://\S*(youtube\.com|youtu\.be|vimeo\.com|soundcloud\.com|\.mp4|\.mp3|\.wav|\.m4a)\S*`)
)

// Classify derives goal flags from the message text
func (KeywordClassifier) Classify(message string) Goal {
	goal := Goal{
		Description: strings.TrimSpace(message),
	}

	goal.MediaURLs = mediaURLPattern.FindAllString(message, -1)

	if artifactDocPattern.MatchString(message) {
		goal.RequiresArtifact = true
		goal.ArtifactKinds = append(goal.ArtifactKinds, "document")
	}
	if artifactCodePattern.MatchString(message) {
		goal.RequiresArtifact = true
		goal.ArtifactKinds = append(goal.ArtifactKinds, "code")
	}

	if len(goal.MediaURLs) > 0 {
		if downloadPattern.MatchString(message) {
			goal.RequiresDownload = true
		}
		if transcriptPattern.MatchString(message) || summaryPattern.MatchString(message) {
			goal.RequiresTranscript = true
		}
	}

	// Media intents answer from the URL itself; bare search keywords on top
	// of a media request do not make it a web-search task.
	if len(goal.MediaURLs) == 0 && searchIntentPattern.MatchString(message) {
		goal.RequiresSearch = true
	}

	return goal
}
