// Package email renders the saved-search notification emails. Each Format
// carries its structured payload; templates are compiled in at build time.
package email

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/lib/models"
)

var (
	//go:embed digest.html
	digestHTML     string
	digestTemplate = template.Must(template.New("digest.html").Parse(digestHTML))

	//go:embed single.html
	singleHTML     string
	singleTemplate = template.Must(template.New("single.html").Parse(singleHTML))

	//go:embed initial.html
	initialHTML     string
	initialTemplate = template.Must(template.New("initial.html").Parse(initialHTML))

	//go:embed update.html
	updateHTML     string
	updateTemplate = template.Must(template.New("update.html").Parse(updateHTML))

	//go:embed disable.html
	disableHTML     string
	disableTemplate = template.Must(template.New("disable.html").Parse(disableHTML))
)

// Format is one renderable outbound email.
type Format interface {
	Subject() string
	Body() string
}

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

type DigestEmailFormat struct {
	Digest        *models.SearchDigest
	Results       []feeds.Result
	CustomMessage string
	Since         time.Time
}

func (ef *DigestEmailFormat) Subject() string {
	return "Your Daily Saved Search Digest"
}

func (ef *DigestEmailFormat) Body() string {
	return mustFillTemplate(digestTemplate, ef)
}

type SingleEmailFormat struct {
	Result        feeds.Result
	CustomMessage string
	Since         time.Time
}

func (ef *SingleEmailFormat) Subject() string {
	return strings.TrimSpace(ef.Result.Search.Label)
}

func (ef *SingleEmailFormat) Body() string {
	return mustFillTemplate(singleTemplate, ef)
}

type InitialEmailFormat struct {
	Search        *models.SavedSearch
	CustomMessage string
}

func (ef *InitialEmailFormat) Subject() string {
	return fmt.Sprintf("New Saved Search - %s", strings.TrimSpace(ef.Search.Label))
}

func (ef *InitialEmailFormat) Body() string {
	return mustFillTemplate(initialTemplate, ef)
}

type UpdateEmailFormat struct {
	Search        *models.SavedSearch
	Message       string
	CustomMessage string
}

func (ef *UpdateEmailFormat) Subject() string {
	return fmt.Sprintf("Saved Search Updated - %s", strings.TrimSpace(ef.Search.Label))
}

func (ef *UpdateEmailFormat) Body() string {
	return mustFillTemplate(updateTemplate, ef)
}

type DisableEmailFormat struct {
	Search *models.SavedSearch
}

func (ef *DisableEmailFormat) Subject() string {
	return "Invalid search url in your saved search"
}

func (ef *DisableEmailFormat) Body() string {
	return mustFillTemplate(disableTemplate, ef)
}
