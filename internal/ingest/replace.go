package ingest

import "regexp"

// ReplaceRule normalizes a filesystem path before it is stored in the
// catalog (spec §4.2 "a regular expression with a replacement template
// applied to each filesystem path prior to storage, so that stored
// paths can be normalized relative to the archive or mount root").
type ReplaceRule struct {
	re   *regexp.Regexp
	tmpl string
}

// ParseReplaceRule parses the CLI's "RE=TMPL" flag value (spec §6
// `--replace 'RE=TMPL'`). TMPL may reference capture groups with
// Go's regexp ReplaceAll syntax ($1, ${name}).
func ParseReplaceRule(spec string) (*ReplaceRule, error) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' {
			re, err := regexp.Compile(spec[:i])
			if err != nil {
				return nil, err
			}
			return &ReplaceRule{re: re, tmpl: spec[i+1:]}, nil
		}
	}
	re, err := regexp.Compile(spec)
	if err != nil {
		return nil, err
	}
	return &ReplaceRule{re: re, tmpl: ""}, nil
}

// Apply runs the replacement against path, returning path unchanged if
// the pattern doesn't match.
func (r *ReplaceRule) Apply(path string) string {
	if r == nil {
		return path
	}
	return r.re.ReplaceAllString(path, r.tmpl)
}
