package router

import (
	"regexp"
	"sort"
	"strings"

	"taskgate.app/bot/core/config"
)

// Kind is the outcome of classifying one inbound message.
type Kind string

const (
	KindIgnored        Kind = "ignored"
	KindRejected       Kind = "rejected"
	KindDepartmentTask Kind = "department_task"
	KindPartnerTask    Kind = "partner_task"
)

// Classification is the structured reading of a raw message text.
type Classification struct {
	Kind Kind

	// Department is set for a single leading-hashtag request; Departments
	// carries every tag matched anywhere in a privileged request, in order
	// of first appearance.
	Department  string
	Departments []string

	PartnerID string // digits only, empty when no partner token matched

	Summary     string
	Description string

	Reason string // human-readable cause for KindRejected
}

var issueKeyPattern = regexp.MustCompile(`[A-Z]+-\d+`)

// ExtractIssueKey pulls the first queue-prefixed issue key out of a text,
// e.g. "Задача MNG-12 создана" -> "MNG-12". Empty string when none.
func ExtractIssueKey(text string) string {
	return issueKeyPattern.FindString(text)
}

// Router classifies raw chat text against the static routing tables. All
// compiled state is built once at construction and read-only afterwards.
type Router struct {
	routing config.Routing

	hashtagPattern *regexp.Regexp
	markerPattern  *regexp.Regexp
	partnerPattern *regexp.Regexp
}

func New(routing config.Routing) *Router {
	// Longest tags first so "#менеджер" is never half-matched as "#менедж".
	tags := make([]string, 0, len(routing.Hashtags))
	for tag := range routing.Hashtags {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return len(tags[i]) > len(tags[j]) })
	quoted := make([]string, len(tags))
	for i, tag := range tags {
		quoted[i] = regexp.QuoteMeta(tag)
	}

	return &Router{
		routing:        routing,
		hashtagPattern: regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)`),
		markerPattern:  regexp.MustCompile(`(?i)` + regexp.QuoteMeta(routing.TaskMarker)),
		partnerPattern: regexp.MustCompile(routing.PartnerIDPattern),
	}
}

// Classify applies the routing rules in priority order: a leading department
// hashtag is open to anyone; the task marker anywhere in the text is reserved
// for privileged senders and unlocks multi-department and partner routing.
func (r *Router) Classify(text string, privileged bool) Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Classification{Kind: KindIgnored}
	}

	if code, rest, ok := r.leadingDepartment(trimmed); ok {
		summary, description := splitFreeText(rest)
		if summary == "" {
			return Classification{Kind: KindIgnored}
		}
		return Classification{
			Kind:        KindDepartmentTask,
			Department:  code,
			Summary:     summary,
			Description: description,
		}
	}

	if !r.markerPattern.MatchString(trimmed) {
		return Classification{Kind: KindIgnored}
	}
	if !privileged {
		return Classification{
			Kind:   KindRejected,
			Reason: "task marker is restricted to managers",
		}
	}

	departments := r.departmentsAnywhere(trimmed)

	partnerID := ""
	if m := r.partnerPattern.FindStringSubmatch(trimmed); m != nil {
		partnerID = m[1]
	}

	free := r.markerPattern.ReplaceAllString(trimmed, " ")
	free = r.hashtagPattern.ReplaceAllString(free, " ")
	free = r.partnerPattern.ReplaceAllString(free, " ")

	summary, description := splitFreeText(free)
	if summary == "" {
		return Classification{Kind: KindIgnored}
	}

	return Classification{
		Kind:        KindPartnerTask,
		Departments: departments,
		PartnerID:   partnerID,
		Summary:     summary,
		Description: description,
	}
}

// leadingDepartment matches a department hashtag at the very start of the
// text and returns its code plus the remainder.
func (r *Router) leadingDepartment(text string) (code, rest string, ok bool) {
	loc := r.hashtagPattern.FindStringIndex(text)
	if loc == nil || loc[0] != 0 {
		return "", "", false
	}
	rest = text[loc[1]:]
	// "#hrm" must not match as "#hr".
	if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\t") {
		return "", "", false
	}
	tag := strings.ToLower(text[loc[0]:loc[1]])
	code, known := r.routing.Hashtags[tag]
	if !known {
		return "", "", false
	}
	return code, rest, true
}

// departmentsAnywhere collects every matched department code in order of
// first appearance, deduplicated.
func (r *Router) departmentsAnywhere(text string) []string {
	var codes []string
	seen := make(map[string]bool)
	for _, m := range r.hashtagPattern.FindAllString(text, -1) {
		code, known := r.routing.Hashtags[strings.ToLower(m)]
		if !known || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// splitFreeText splits on the first line break: first line becomes the
// summary, the rest the description. Horizontal whitespace runs inside the
// summary are collapsed, since tag stripping leaves gaps behind.
func splitFreeText(text string) (summary, description string) {
	parts := strings.SplitN(text, "\n", 2)
	summary = strings.Join(strings.Fields(parts[0]), " ")
	if len(parts) == 2 {
		description = strings.TrimSpace(parts[1])
	}
	return summary, description
}
