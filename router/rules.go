package router

import "strings"

// greetings short-circuit to CHAT without touching the gateway.
var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"good night": true, "goodnight": true,
	"thanks": true, "thank you": true, "thx": true,
	"bye": true, "goodbye": true, "see you": true, "later": true,
	"ok": true, "okay": true, "cool": true, "nice": true,
}

func isGreeting(text string) bool {
	return greetings[strings.TrimRight(text, ".!?")]
}

// actionVerbs always need a tool. Prevents the model from misclassifying
// obvious commands like "play it" or "search that" as CHAT.
var actionVerbs = []string{
	"play", "queue", "pause", "stop", "skip", "resume", // media
	"open", "launch", "start", "run", // apps
	"search", "find", "look up", "google", // search
	"send", "message", "email", "text", "call", // communication
	"remind", "set alarm", "set a timer", "set timer", // reminders
	"create", "add", "make", "delete", "remove", // crud
	"download", "upload", "save", "export", // files
	"turn on", "turn off", "enable", "disable", // system
}

func isActionCommand(text string) bool {
	words := strings.Fields(text)
	if len(words) == 0 {
		return false
	}
	for _, verb := range actionVerbs {
		if strings.HasPrefix(text, verb) {
			return true
		}
		if words[0] == strings.Fields(verb)[0] {
			return true
		}
	}
	return false
}

// sequentialConnectors and researchCues force the full loop: a rule match
// on an action verb must not under-classify a multi-step request.
var sequentialConnectors = []string{
	" and then ", " then ", " after that ", " followed by ", " and also ",
}

var researchCues = []string{
	"research", "compare", "summarize", "summarise", "investigate",
	"analyze", "analyse", "pros and cons", "difference between",
	"and what", "and who", "and how",
}

func isComplex(text string) bool {
	for _, c := range sequentialConnectors {
		if strings.Contains(text, c) {
			return true
		}
	}
	for _, cue := range researchCues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return countActionVerbs(text) >= 2
}

func countActionVerbs(text string) int {
	count := 0
	for _, verb := range actionVerbs {
		if strings.Contains(text, verb+" ") || strings.HasSuffix(text, verb) {
			count++
		}
	}
	return count
}

// toolHints maps command keywords to the likely tool for ONE_SHOT routes.
var toolHints = []struct {
	keyword string
	tool    string
}{
	{"play", "spotify_control"},
	{"queue", "spotify_control"},
	{"pause", "spotify_control"},
	{"email", "gmail_read_email"},
	{"weather", "get_weather"},
	{"timer", "set_timer"},
	{"remind", "set_reminder"},
	{"search", "web_search"},
	{"open", "open_app"},
	{"screenshot", "read_screen"},
	{"clipboard", "clipboard_read"},
	{"calendar", "calendar_get_events"},
	{"note", "note_read"},
}

func guessToolHint(text string) string {
	for _, h := range toolHints {
		if strings.Contains(text, h.keyword) {
			return h.tool
		}
	}
	return ""
}
