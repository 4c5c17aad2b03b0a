package fetch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageContext is what the page tells us about the job being applied to.
type PageContext struct {
	JobTitle    string
	Employer    string
	Platform    Platform
	Description string
}

var (
	applicationFor = regexp.MustCompile(`(?i)^(?:job\s+application\s+for\s+|apply(?:\s+now)?\s+(?:for|to)\s+|application\s*:\s*)`)
	atEmployer     = regexp.MustCompile(`(?i)^(.+?)\s+at\s+(.+)$`)
	titleSeparator = regexp.MustCompile(`\s+[|\-–—·]\s+`)
	careersSuffix  = regexp.MustCompile(`(?i)\s*(?:careers?|jobs?|job board|recruiting|hiring)\s*$`)
)

// ParsePageContext extracts job title and employer from a document title.
// Recognised shapes: "Job Application for X at Y", "X at Y", "X | Y", "X - Y Careers";
// Lever titles put the employer first ("Y - X").
func ParsePageContext(title, pageURL string) PageContext {
	pc := PageContext{Platform: DetectPlatform(pageURL)}
	title = strings.TrimSpace(applicationFor.ReplaceAllString(strings.Join(strings.Fields(title), " "), ""))
	if title == "" {
		return pc
	}

	if m := atEmployer.FindStringSubmatch(title); m != nil && !titleSeparator.MatchString(m[1]) {
		pc.JobTitle = strings.TrimSpace(m[1])
		pc.Employer = cleanEmployer(m[2])
		return pc
	}

	parts := titleSeparator.Split(title, -1)
	if len(parts) == 1 {
		pc.JobTitle = title
		return pc
	}
	first, second := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if pc.Platform == PlatformLever {
		first, second = second, first
	}
	pc.JobTitle = first
	pc.Employer = cleanEmployer(second)
	return pc
}

func cleanEmployer(s string) string {
	s = titleSeparator.Split(strings.TrimSpace(s), 2)[0]
	if cleaned := strings.TrimSpace(careersSuffix.ReplaceAllString(s, "")); cleaned != "" {
		return cleaned
	}
	return s
}

// ContextFromHTML reads the page context from rendered HTML, preferring
// og:title / og:site_name and the first heading over the document title.
func ContextFromHTML(html, pageURL string) (PageContext, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageContext{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		title = og
	}
	pc := ParsePageContext(title, pageURL)

	if site, ok := doc.Find("meta[property='og:site_name']").Attr("content"); ok && pc.Employer == "" {
		pc.Employer = cleanEmployer(site)
	}
	if pc.JobTitle == "" {
		pc.JobTitle = strings.Join(strings.Fields(doc.Find("h1").First().Text()), " ")
	}

	platform := pc.Platform
	pc.Description, _ = extractMainText(doc, DescriptionSelectors(platform), NoiseSelectors(platform)...)
	return pc, nil
}

// ExtractMainText parses HTML and returns the main body text.
// Noise elements are removed first; when no content selector matches the body is used.
func ExtractMainText(html string, contentSelectors []string, noiseSelectors ...string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	return extractMainText(doc, contentSelectors, noiseSelectors...)
}

func extractMainText(doc *goquery.Document, contentSelectors []string, noiseSelectors ...string) (string, error) {
	doc.Find("nav, footer, header, script, style, noscript, .cookie-banner, .popup").Remove()
	if len(noiseSelectors) > 0 {
		doc.Find(strings.Join(noiseSelectors, ", ")).Remove()
	}

	var main *goquery.Selection
	for _, selector := range contentSelectors {
		if selection := doc.Find(selector); selection.Length() > 0 {
			main = selection.First()
			break
		}
	}
	if main == nil {
		main = doc.Find("body")
	}
	return cleanWhitespace(main.Text()), nil
}

// DescriptionSelectors returns selectors locating the job description on a platform.
func DescriptionSelectors(platform Platform) []string {
	switch platform {
	case PlatformGreenhouse:
		return []string{".job__description.body", ".job__description", "#content"}
	case PlatformLever:
		return []string{".posting-description", ".section-wrapper.page-full-width", ".content"}
	case PlatformWorkday:
		return []string{"[data-automation-id='jobPostingDescription']", "[data-automation-id='jobDescription']"}
	case PlatformAshby:
		return []string{"[class*='_descriptionText_']", "[class*='_description_']"}
	default:
		return []string{
			".job-description",
			"#job-description",
			".posting-content",
			".job-details",
			"[data-testid='job-description']",
			"main",
			"article",
		}
	}
}

// NoiseSelectors returns elements never part of the job description: the
// application form itself, EEO sections and share widgets.
func NoiseSelectors(platform Platform) []string {
	common := []string{
		"form",
		"#application-form",
		".application-form",
		".voluntary-disclosure",
		".eeo-section",
		".social-share",
	}
	switch platform {
	case PlatformGreenhouse:
		return append(common, ".application--wrapper", "#usa_self_id_section")
	case PlatformLever:
		return append(common, ".apply-section", ".posting-apply")
	case PlatformWorkday:
		return append(common, "[data-automation-id='applyButton']")
	default:
		return common
	}
}

func cleanWhitespace(text string) string {
	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
