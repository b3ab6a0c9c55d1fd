package services

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
)

const (
	orderIDPrefix        = "ord_"
	orderLineIDPrefix    = "line_"
	prescriptionIDPrefix = "rx_"
	invoiceIDPrefix      = "inv_"

	maxFreeTextLength = 500
)

var plainText = bluemonday.StrictPolicy()

// sanitizeText strips markup from free text entered by users and staff.
func sanitizeText(value string) string {
	cleaned := html.UnescapeString(plainText.Sanitize(value))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if len(cleaned) > maxFreeTextLength {
		cleaned = strings.ToValidUTF8(cleaned[:maxFreeTextLength], "")
	}
	return cleaned
}

func newID(prefix string) string {
	return prefix + ulid.Make().String()
}

func chooseFirstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
