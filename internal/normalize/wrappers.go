package normalize

import (
	"regexp"
	"strings"

	"github.com/gzhole/bashguard/internal/shell"
)

// wrapper describes a program that runs another program given as its
// operands.
type wrapper struct {
	valueFlags map[string]bool // options that consume the following word
	leading    int             // operands that precede the wrapped command
	assigns    bool            // NAME=value operands set the wrapped command's environment
	lookup     map[string]bool // options that make the wrapper only look the command up
	opaque     map[string]bool // options whose value is itself a command line
}

var wrappers = map[string]wrapper{
	"sudo": {valueFlags: set(`-u --user -g --group -C --close-from -h --host -p --prompt
		-U --other-user -r --role -t --type -T --command-timeout -D --chdir`)},
	"doas":    {valueFlags: set(`-u -C`)},
	"env":     {valueFlags: set(`-u --unset -C --chdir`), assigns: true, opaque: set(`-S --split-string`)},
	"nohup":   {},
	"nice":    {valueFlags: set(`-n --adjustment`)},
	"time":    {valueFlags: set(`-f --format -o --output`)},
	"command": {lookup: set(`-v -V`)},
	"exec":    {valueFlags: set(`-a`)},
	"xargs": {valueFlags: set(`-n --max-args -L --max-lines -P --max-procs -s --max-chars
		-I -E -d --delimiter -a --arg-file`)},
	"timeout": {valueFlags: set(`-s --signal -k --kill-after`), leading: 1},
	"stdbuf":  {valueFlags: set(`-i --input -o --output -e --error`)},
}

var assignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// unwrapped is the command a wrapper runs.
type unwrapped struct {
	words  []shell.Word
	env    []string
	reason string // set when the wrapped command cannot be determined statically
}

// unwrap locates the wrapped command in a wrapper's words. It returns
// false when there is no command it can name; reason may still be set.
func (w wrapper) unwrap(words []shell.Word) (unwrapped, bool) {
	var out unwrapped
	leading := w.leading
	for i := 1; i < len(words); i++ {
		word := words[i]
		if !word.Static {
			out.words = words[i:]
			return out, true
		}
		text := word.Value
		switch {
		case text == "--":
			if i+1 < len(words) {
				out.words = words[i+1:]
				return out, true
			}
			return out, false
		case w.assigns && assignment.MatchString(text):
			out.env = append(out.env, text)
		case strings.HasPrefix(text, "-") && text != "-":
			name, _, hasValue := strings.Cut(text, "=")
			if w.lookup[name] {
				return out, false
			}
			if w.opaque[name] || (!strings.HasPrefix(text, "--") && len(text) > 2 && w.opaque[text[:2]]) {
				out.reason = "wrapped command is given as an option value"
				return out, false
			}
			switch {
			case w.valueFlags[name] && !hasValue:
				i++
			case !strings.HasPrefix(text, "--") && len(text) > 2 && !w.valueFlags[text[:2]] && w.valueFlags["-"+text[len(text)-1:]]:
				i++
			}
		case leading > 0:
			leading--
		default:
			out.words = words[i:]
			return out, true
		}
	}
	return out, false
}
