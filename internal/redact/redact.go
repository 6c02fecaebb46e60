// Package redact masks credentials in command lines before they are logged
// or displayed.
package redact

import (
	"regexp"
	"strings"
)

const Placeholder = "[REDACTED]"

type rule struct {
	name string
	re   *regexp.Regexp
	repl string
}

var rules = []rule{
	{"aws-assignment", regexp.MustCompile(`(?i)(aws_access_key_id|aws_secret_access_key|aws_session_token)\s*[=:]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`), Placeholder},
	{"aws-key-id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), Placeholder},
	{"github-assignment", regexp.MustCompile(`(?i)(github_token|gh_token|github_pat)\s*[=:]\s*['"]?[A-Za-z0-9_-]{30,}['"]?`), Placeholder},
	{"github-token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`), Placeholder},
	{"api-key", regexp.MustCompile(`(?i)(api_key|apikey|api-key|secret_key|secretkey|secret-key|access_token|auth_token)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}['"]?`), Placeholder},
	{"private-key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`), Placeholder},
	{"bearer", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_.-]{20,}`), "Bearer " + Placeholder},
	{"url-userinfo", regexp.MustCompile(`(https?://)[^/\s:@]+:[^/\s@]+@`), "${1}" + Placeholder + "@"},
	{"slack", regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`), Placeholder},
	{"stripe", regexp.MustCompile(`[sr]k_live_[0-9a-zA-Z]{24}`), Placeholder},
	{"password", regexp.MustCompile(`(?i)(password|passwd|pwd|secret)\s*[=:]\s*['"]?[^\s'"]{8,}['"]?`), Placeholder},
}

// Redact replaces every credential-looking substring of s.
func Redact(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// Matches returns the names of the patterns found in s.
func Matches(s string) []string {
	var names []string
	for _, r := range rules {
		if r.re.MatchString(s) {
			names = append(names, r.name)
		}
	}
	return names
}

var sensitiveNames = []string{
	"ACCESS_KEY",
	"SECRET",
	"SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"GITHUB_PAT",
	"API_KEY",
	"AUTH_TOKEN",
	"ACCESS_TOKEN",
	"PASSWORD",
	"PASSWD",
	"DATABASE_URL",
	"REDIS_URL",
	"MONGO_URL",
	"SLACK_TOKEN",
	"NPM_TOKEN",
	"PYPI_TOKEN",
}

// Assignments masks the value of NAME=value words whose name looks
// sensitive, such as the environment prefixes of a command. Other words are
// passed through Redact.
func Assignments(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		name, _, ok := strings.Cut(w, "=")
		if ok && sensitiveName(name) {
			out[i] = name + "=" + Placeholder
			continue
		}
		out[i] = Redact(w)
	}
	return out
}

func sensitiveName(name string) bool {
	name = strings.ToUpper(name)
	for _, s := range sensitiveNames {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}
