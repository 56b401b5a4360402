// ABOUTME: Keyword classification and project name extraction for harvested mail
// ABOUTME: The first matching keyword group decides the document type

package harvester

import (
	"regexp"
	"strings"

	"github.com/2389/stampdesk/internal/config"
)

// replyPrefix matches leading "Re:", "Fwd:" and "FW:" markers.
var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fwd?|aw)\s*:\s*)+`)

// Classifier maps message text to a document type and project name.
type Classifier struct {
	groups []config.KeywordGroup
	labels []*regexp.Regexp
}

// NewClassifier builds a classifier. Labels are matched at the start of a
// line followed by a colon, e.g. "Project: Tower A".
func NewClassifier(groups []config.KeywordGroup, labels []string) *Classifier {
	c := &Classifier{groups: groups}
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		c.labels = append(c.labels, regexp.MustCompile(`(?im)^[ \t]*`+regexp.QuoteMeta(label)+`[ \t]*:[ \t]*(\S.*?)[ \t]*\r?$`))
	}
	return c
}

// DocType returns the doc type of the first group with a word present in the
// subject or body, case-insensitively.
func (c *Classifier) DocType(subject, body string) (string, bool) {
	text := strings.ToLower(subject + "\n" + body)
	for _, g := range c.groups {
		for _, w := range g.Words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" && strings.Contains(text, w) {
				return g.DocType, true
			}
		}
	}
	return "", false
}

// ProjectName returns the first labelled value found in the body, then the
// subject, falling back to the subject without reply prefixes.
func (c *Classifier) ProjectName(subject, body string) string {
	for _, text := range []string{body, subject} {
		for _, re := range c.labels {
			if m := re.FindStringSubmatch(text); m != nil {
				return m[1]
			}
		}
	}
	return strings.TrimSpace(replyPrefix.ReplaceAllString(subject, ""))
}
