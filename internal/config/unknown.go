package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of every section.
var knownKeys = map[string][]string{
	"auth":  {"client_id", "client_secret", "refresh_margin", "refresh_timeout", "scopes", "token_file"},
	"drive": {"base_url", "folder_name", "page_size", "upload_url", "userinfo_url"},
	"upload": {
		"bandwidth_limit", "default_mime_type", "default_tags", "extensions",
		"max_file_size", "parallel", "public",
	},
	"logging": {"log_format", "log_level"},
	"network": {"timeout", "user_agent"},
}

// knownSections is the sorted list of section names, for deterministic
// suggestions.
var knownSections = func() []string {
	s := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		s = append(s, k)
	}

	slices.Sort(s)

	return s
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

// unknownKeyError builds the message for one undecoded key. Top-level keys
// are matched against section names, section keys against that section.
func unknownKeyError(key toml.Key) error {
	if len(key) == 1 {
		return withSuggestion(fmt.Sprintf("unknown config section %q", key[0]), key[0], knownSections)
	}

	section, field := key[0], key[1]

	keys, ok := knownKeys[section]
	if !ok {
		return withSuggestion(fmt.Sprintf("unknown config section %q", section), section, knownSections)
	}

	return withSuggestion(fmt.Sprintf("unknown config key %q in [%s]", field, section), field, keys)
}

func withSuggestion(msg, unknown string, known []string) error {
	if s := closestMatch(unknown, known); s != "" {
		return fmt.Errorf("%s, did you mean %q?", msg, s)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// isKnownKey reports whether section.field is a recognized key.
func isKnownKey(section, field string) bool {
	return slices.Contains(knownKeys[section], field)
}

// splitKey splits "section.field" into its parts.
func splitKey(dotted string) (string, string, bool) {
	return strings.Cut(dotted, ".")
}
