package mail

import (
	"strings"

	"outreach/internal/directory"
)

// Placeholder keys accepted in subject and body templates, written as
// {company}, {company_type}, {locality}, {greeting}. Unknown braces are
// left untouched so a template typo degrades to visible text instead of
// a failed run.
const (
	keyCompany     = "company"
	keyCompanyType = "company_type"
	keyLocality    = "locality"
	keyGreeting    = "greeting"
)

// emptyValues mirror the placeholder junk scraped directories contain.
var emptyValues = map[string]struct{}{
	"":              {},
	"none":          {},
	"null":          {},
	"unknown":       {},
	"no disponible": {},
	"desconocida":   {},
	"desconocido":   {},
}

// CleanValue trims a directory field and substitutes fallback for
// placeholder junk.
func CleanValue(raw, fallback string) string {
	v := strings.TrimSpace(raw)
	if _, empty := emptyValues[strings.ToLower(v)]; empty {
		return fallback
	}
	return v
}

// Greeting builds the salutation line; a recipient without a usable
// name gets a neutral one rather than an awkward blank.
func Greeting(name string) string {
	n := CleanValue(name, "")
	if n == "" {
		return "Dear team,"
	}
	return "Dear " + n + " team,"
}

// Renderer personalizes one subject/body pair per recipient.
type Renderer struct {
	subject string
	body    string
}

func NewRenderer(subject, body string) *Renderer {
	return &Renderer{subject: subject, body: body}
}

// Render fills the template placeholders from the recipient's fields.
// It never fails: missing fields fall back to neutral wording.
func (r *Renderer) Render(rec directory.Recipient) (subject, html string) {
	name := CleanValue(rec.Name, "")
	bodyCompany := name
	if bodyCompany == "" {
		bodyCompany = "your company"
	}
	data := map[string]string{
		keyCompany:     bodyCompany,
		keyCompanyType: CleanValue(rec.CompanyType, "company"),
		keyLocality:    CleanValue(rec.Locality, ""),
		keyGreeting:    Greeting(rec.Name),
	}
	return formatSafe(r.subject, data), formatSafe(r.body, data)
}

// formatSafe substitutes {key} markers for known keys only, leaving
// everything else alone.
func formatSafe(tpl string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
