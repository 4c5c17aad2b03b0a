package fetch

import (
	"net/url"
	"strings"
)

// Platform represents a known applicant tracking system.
type Platform string

const (
	PlatformGreenhouse      Platform = "greenhouse"
	PlatformLever           Platform = "lever"
	PlatformWorkday         Platform = "workday"
	PlatformAshby           Platform = "ashby"
	PlatformBambooHR        Platform = "bamboohr"
	PlatformICIMS           Platform = "icims"
	PlatformSmartRecruiters Platform = "smartrecruiters"
	PlatformUnknown         Platform = "unknown"
)

var platformHosts = []struct {
	platform Platform
	hosts    []string
}{
	{PlatformGreenhouse, []string{"greenhouse.io"}},
	{PlatformLever, []string{"lever.co"}},
	{PlatformWorkday, []string{"myworkdayjobs.com", "myworkdaysite.com", "workday.com"}},
	{PlatformAshby, []string{"ashbyhq.com"}},
	{PlatformBambooHR, []string{"bamboohr.com"}},
	{PlatformICIMS, []string{"icims.com"}},
	{PlatformSmartRecruiters, []string{"smartrecruiters.com"}},
}

// DetectPlatform identifies the ATS from a page URL.
func DetectPlatform(urlStr string) Platform {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return PlatformUnknown
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return PlatformUnknown
	}
	for _, p := range platformHosts {
		for _, h := range p.hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return p.platform
			}
		}
	}
	return PlatformUnknown
}

// genericOptionSelectors match the option rows of custom dropdown widgets.
var genericOptionSelectors = []string{
	"[role='option']",
	".select__option",
	"[data-automation-id='promptOption']",
}

// OptionSelectors returns the selectors for the open option list of a custom
// dropdown, platform-specific first. The fill engine falls back to plain li rows.
func OptionSelectors(platform Platform) []string {
	var specific []string
	switch platform {
	case PlatformWorkday:
		specific = []string{
			"[data-automation-id='promptOption']",
			"[data-automation-id='menuItem']",
		}
	case PlatformGreenhouse:
		specific = []string{
			".select__option",
			"[id^='react-select'][id*='-option-']",
		}
	case PlatformAshby:
		specific = []string{"[class*='_option_']"}
	case PlatformICIMS:
		specific = []string{".dropdown-results li", ".iCIMS_DropdownOption"}
	case PlatformSmartRecruiters:
		specific = []string{"spl-select-option", ".sr-select-option"}
	case PlatformLever, PlatformBambooHR:
		specific = []string{".fab-MenuOption"}
	}
	return dedupe(append(specific, genericOptionSelectors...))
}

// DropZoneSelectors returns selectors for file drop zones that wrap upload inputs.
func DropZoneSelectors(platform Platform) []string {
	common := []string{
		".dropzone",
		"[class*='drop-zone']",
		"[class*='dropzone']",
		"[class*='file-upload']",
		"[data-testid*='drop']",
	}
	switch platform {
	case PlatformWorkday:
		return append([]string{"[data-automation-id='file-upload-drop-zone']"}, common...)
	case PlatformGreenhouse:
		return append([]string{"[data-field='resume']", "[data-field='cover_letter']", ".file-upload"}, common...)
	case PlatformLever:
		return append([]string{".application-file-input", ".resume-upload"}, common...)
	case PlatformAshby:
		return append([]string{"[class*='_dropzone_']"}, common...)
	default:
		return common
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
