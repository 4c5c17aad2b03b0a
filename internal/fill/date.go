package fill

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the profile date spellings understood, most specific first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2006-01",
	"01/2006",
	"1/2006",
	"January 2006",
	"Jan 2006",
	"2006",
}

// NormalizeDate rewrites value into the format a native input of inputType
// accepts: YYYY-MM-DD for date, YYYY-MM for month and YYYY-MM-DDTHH:MM for
// datetime-local.
func NormalizeDate(value, inputType string) (string, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		switch inputType {
		case "month":
			return t.Format("2006-01"), nil
		case "datetime-local":
			return t.Format("2006-01-02T15:04"), nil
		default:
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognised date %q", value)
}
