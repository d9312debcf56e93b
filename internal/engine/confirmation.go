package engine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Decision is the parsed intent of one confirmation-response comment.
// Step orders are 0-based; "step 2" in a comment refers to order 1.
type Decision struct {
	ApproveAll     bool
	RejectAll      bool
	ApprovedOrders []int
	RejectedOrders []int
}

// Empty reports whether no intent was recognized.
func (d Decision) Empty() bool {
	return !d.ApproveAll && !d.RejectAll && len(d.ApprovedOrders) == 0 && len(d.RejectedOrders) == 0
}

// ConfirmationParser extracts approval/rejection intent from a task
// comment. The keyword implementation below only reliably handles English
// and simple "step N" references; it sits behind this interface so a real
// intent classifier can replace it without touching the state machine.
type ConfirmationParser interface {
	Parse(comment string) Decision
}

var (
	stepRefRe = regexp.MustCompile(`\bsteps?\s+(\d+)`)
	wordRe    = regexp.MustCompile(`[a-z']+`)
)

// approveKeywords and rejectKeywords drive intent detection. Multi-word
// phrases are matched before single words.
var (
	approvePhrases = []string{"go ahead"}
	approveWords   = map[string]bool{"approve": true, "approved": true, "confirm": true, "confirmed": true, "proceed": true, "yes": true}
	rejectPhrases  = []string{"do not", "don't"}
	rejectWords    = map[string]bool{"reject": true, "rejected": true, "skip": true, "no": true}
)

// KeywordConfirmationParser is the default heuristic parser. Comments are
// markdown, so the text is extracted from the goldmark AST first; keyword
// matching on raw markdown would trip over emphasis markers and links.
//
// Known gap: negated or ambiguous phrasing ("don't skip step 2") resolves
// to the nearest keyword and can misread intent.
type KeywordConfirmationParser struct {
	md goldmark.Markdown
}

// NewKeywordConfirmationParser creates the default parser.
func NewKeywordConfirmationParser() *KeywordConfirmationParser {
	return &KeywordConfirmationParser{md: goldmark.New()}
}

type intentMark struct {
	pos     int
	approve bool
}

// Parse extracts the decision from one comment.
func (p *KeywordConfirmationParser) Parse(comment string) Decision {
	plain := strings.ToLower(p.plainText(comment))

	marks := p.intentMarks(plain)
	if len(marks) == 0 {
		return Decision{}
	}

	refs := stepRefRe.FindAllStringSubmatchIndex(plain, -1)
	if len(refs) == 0 {
		// Whole-plan intent. Mixed signals with no step scoping are
		// ambiguous; make no decision rather than guess.
		approve, reject := false, false
		for _, m := range marks {
			if m.approve {
				approve = true
			} else {
				reject = true
			}
		}
		if approve == reject {
			return Decision{}
		}
		return Decision{ApproveAll: approve, RejectAll: reject}
	}

	var d Decision
	seen := map[int]bool{}
	for _, ref := range refs {
		numText := plain[ref[2]:ref[3]]
		n, err := strconv.Atoi(numText)
		if err != nil || n < 1 {
			continue
		}
		order := n - 1
		if seen[order] {
			continue
		}
		seen[order] = true

		if nearestIntent(marks, ref[0]) {
			d.ApprovedOrders = append(d.ApprovedOrders, order)
		} else {
			d.RejectedOrders = append(d.RejectedOrders, order)
		}
	}
	return d
}

// nearestIntent picks the closest intent keyword to a step reference,
// preferring a preceding keyword ("approve step 2") over a following one.
func nearestIntent(marks []intentMark, refPos int) bool {
	best := marks[0]
	bestDist := distance(best.pos, refPos)
	for _, m := range marks[1:] {
		dist := distance(m.pos, refPos)
		if dist < bestDist {
			best = m
			bestDist = dist
		}
	}
	return best.approve
}

func distance(keywordPos, refPos int) int {
	if keywordPos <= refPos {
		return refPos - keywordPos
	}
	// Keywords after the reference are a weaker signal.
	return (keywordPos - refPos) * 2
}

// intentMarks finds all intent keywords with their positions.
func (p *KeywordConfirmationParser) intentMarks(plain string) []intentMark {
	var marks []intentMark

	for _, phrase := range approvePhrases {
		for pos := 0; ; {
			i := strings.Index(plain[pos:], phrase)
			if i < 0 {
				break
			}
			marks = append(marks, intentMark{pos: pos + i, approve: true})
			pos += i + len(phrase)
		}
	}
	for _, phrase := range rejectPhrases {
		for pos := 0; ; {
			i := strings.Index(plain[pos:], phrase)
			if i < 0 {
				break
			}
			marks = append(marks, intentMark{pos: pos + i, approve: false})
			pos += i + len(phrase)
		}
	}

	for _, loc := range wordRe.FindAllStringIndex(plain, -1) {
		word := plain[loc[0]:loc[1]]
		if approveWords[word] {
			marks = append(marks, intentMark{pos: loc[0], approve: true})
		} else if rejectWords[word] {
			marks = append(marks, intentMark{pos: loc[0], approve: false})
		}
	}
	return marks
}

// plainText renders the markdown comment to its text content.
func (p *KeywordConfirmationParser) plainText(comment string) string {
	source := []byte(comment)
	doc := p.md.Parser().Parse(text.NewReader(source))

	var sb strings.Builder
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.Paragraph, *ast.Heading, *ast.ListItem:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
