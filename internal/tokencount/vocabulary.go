package tokencount

// seedVocabulary returns a compact list of common English subwords and
// punctuation clusters. Encoding takes the longest entry that matches at
// each position, so the order of the list does not change any estimate.
// This is intentionally small — it is an estimator,
// not a byte-exact reimplementation of OpenAI's tokenizer.
func seedVocabulary() []string {
	return []string{
		// multi-char punctuation / whitespace runs
		"\n\n", "\r\n", "  ", "...", "->", "=>", "==", "!=", "<=", ">=", "://",
		// common whole words (longest-first within each length band)
		"function", "package", "import", "return", "struct", "interface",
		"context", "session", "message", "provider", "assistant", "request",
		"response", "content", "because", "through", "between", "without",
		"should", "system", "before", "after", "which", "their", "there",
		"about", "would", "could", "these", "those", "first", "token",
		"tool", "call", "name", "error", "result", "value", "state",
		"time", "data", "true", "false", "null", "type", "user", "role",
		"with", "from", "that", "this", "have", "will", "what", "when",
		"were", "been", "into", "over", "such", "each", "more", "some",
		"only", "also", "than", "then", "here", "does", "both", "just",
		"like", "make", "most", "need", "even", "used", "uses", "user",
		"and", "the", "for", "are", "you", "not", "but", "can", "all",
		"has", "was", "his", "her", "its", "out", "who", "get", "use",
		"new", "now", "way", "may", "say", "too", "any", "day", "let",
		"ing", "tion", "ment", "ness", "able", "ible", "ical", "ally",
		"er", "ed", "es", "ly", "al", "ic", "en", "re", "un", "in",
		"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l",
		"m", "n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x",
		"y", "z",
		"0", "1", "2", "3", "4", "5", "6", "7", "8", "9",
		".", ",", "!", "?", ";", ":", "'", "\"", "(", ")", "[", "]",
		"{", "}", "-", "_", "/", "\\", "@", "#", "$", "%", "^", "&",
		"*", "+", "=", "<", ">", "|", "~", "`", " ",
	}
}
