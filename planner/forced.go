package planner

import (
	"regexp"
	"strconv"
	"strings"
)

// forcedPattern is one deterministic command shape. For these, model
// discretion adds only latency and hallucination risk, so matching requests
// get a fixed single-step plan.
type forcedPattern struct {
	re       *regexp.Regexp
	tool     string
	terminal bool
	args     func(m []string, text string) map[string]any
}

var forcedPatterns = []forcedPattern{
	{
		re:   regexp.MustCompile(`(?i)\b(search|google|look\s*up|find\s*out)\s+(the\s+)?(web|internet|online)\s*(for|about)?\s*(.*)`),
		tool: "web_search",
		args: func(m []string, text string) map[string]any {
			return map[string]any{"query": extractSearchQuery(text)}
		},
	},
	{
		re:   regexp.MustCompile(`(?i)\bsearch\s+(for\s+)?(.+)$`),
		tool: "web_search",
		args: func(m []string, text string) map[string]any {
			return map[string]any{"query": strings.TrimSpace(m[2])}
		},
	},
	{
		re:       regexp.MustCompile(`(?i)\b(play|open|watch)\s+(.+?)\s+on\s+youtube\b`),
		tool:     "play_youtube",
		terminal: true,
		args: func(m []string, text string) map[string]any {
			return map[string]any{"topic": strings.TrimSpace(m[2])}
		},
	},
	{
		re:       regexp.MustCompile(`(?i)\b(play|start)\s+(some\s+)?(music|songs?|spotify|tracks?|playlist)\s*$`),
		tool:     "spotify_control",
		terminal: true,
		args: func(m []string, text string) map[string]any {
			return map[string]any{"action": "play"}
		},
	},
	{
		re:       regexp.MustCompile(`(?i)\b(pause|stop)\s+(the\s+)?(music|song|spotify|playback|track)\b`),
		tool:     "spotify_control",
		terminal: true,
		args: func(m []string, text string) map[string]any {
			return map[string]any{"action": "pause"}
		},
	},
	{
		re:       regexp.MustCompile(`(?i)\b(next|skip)\s*(track|song)?\s*$`),
		tool:     "spotify_control",
		terminal: true,
		args: func(m []string, text string) map[string]any {
			return map[string]any{"action": "next"}
		},
	},
	{
		re:       regexp.MustCompile(`(?i)\b(set|start)\s+(a\s+)?timer\s+(for\s+)?(\d+)\s*(min|minute|hour|hr|sec|second)s?\b`),
		tool:     "set_timer",
		terminal: true,
		args: func(m []string, text string) map[string]any {
			return map[string]any{"minutes": parseToMinutes(m[4], m[5])}
		},
	},
	{
		re:       regexp.MustCompile(`(?i)\b(what('s|s| is)|show|check|get)\s+(on\s+)?(my\s+)?calendar\b`),
		tool:     "calendar_get_events",
		terminal: false,
		args: func(m []string, text string) map[string]any {
			return map[string]any{}
		},
	},
}

// ForcedPlan returns a deterministic single-step plan when the query matches
// a known command shape.
func ForcedPlan(query string) (Plan, bool) {
	text := strings.TrimSpace(query)
	for _, fp := range forcedPatterns {
		m := fp.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return Plan{{ID: 1, Tool: fp.tool, Args: fp.args(m, text), Terminal: fp.terminal}}, true
	}
	return nil, false
}

var searchNoise = []string{
	"search the web for", "search the internet for", "search online for",
	"search the web", "search for", "search", "google", "look up", "find out about", "find out",
}

func extractSearchQuery(text string) string {
	q := strings.ToLower(strings.TrimSpace(text))
	for _, noise := range searchNoise {
		q = strings.TrimSpace(strings.TrimPrefix(q, noise))
	}
	if q == "" {
		return strings.TrimSpace(text)
	}
	return q
}

func parseToMinutes(value, unit string) float64 {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 1
	}
	switch {
	case strings.HasPrefix(unit, "hour"), strings.HasPrefix(unit, "hr"):
		return n * 60
	case strings.HasPrefix(unit, "sec"):
		return n / 60
	default:
		return n
	}
}
