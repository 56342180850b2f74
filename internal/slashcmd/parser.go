package slashcmd

import "strings"

// Prefix is the only command prefix the REPL recognizes (spec §4.j lists no
// alternate prefix, unlike the teacher's configurable "/"/"!" set).
const Prefix = "/"

// Parse reports whether text is a command invocation and splits it into
// name/args if so. Commands must start the line; "/exit" mid-sentence is
// plain user text.
func Parse(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, Prefix) {
		return "", "", false
	}
	rest := text[len(Prefix):]
	if rest == "" {
		return "", "", false
	}
	first := rest[0]
	if !((first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z')) {
		return "", "", false
	}
	parts := strings.SplitN(rest, " ", 2)
	name = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args, true
}
