package services

import (
	"regexp"

	"github.com/tbourn/go-support-backend/internal/utils"
)

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// clampPage applies the default page and size and caps the size.
func clampPage(page, pageSize int) (int, int) {
	return utils.ClampPage(page, pageSize, DefaultPageSize, MaxPageSize)
}
