package dispatch

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/hjscm/alertengine/exceptions"
	"github.com/hjscm/alertengine/internal/logger"
	"github.com/hjscm/alertengine/snapshot"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// Render substitutes {{field.path}} placeholders with values from the
// originating snapshot, falling back to exception attributes. Unresolved
// placeholders render as empty strings and are logged; rendering never
// fails.
func Render(template string, e *exceptions.Exception, snap *snapshot.Snapshot) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		path := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := snap.Field(path); ok {
			return formatValue(v)
		}
		if v, ok := exceptionField(e, path); ok {
			return v
		}
		logger.Debug("unresolved template placeholder", "placeholder", path,
			"exception", e.ID)
		return ""
	})
}

func exceptionField(e *exceptions.Exception, path string) (string, bool) {
	switch path {
	case "exception.id":
		return e.ID, true
	case "exception.title":
		return e.Title, true
	case "exception.category":
		return e.Category, true
	case "exception.status":
		return string(e.Status), true
	case "exception.priorityScore":
		return formatValue(e.PriorityScore), true
	case "exception.priorityLevel":
		return string(e.PriorityLevel), true
	case "exception.slaDeadline":
		return e.SLADeadline.Format("2006-01-02 15:04"), true
	case "entity.type":
		return e.Entity.Type, true
	case "entity.id":
		return e.Entity.ID, true
	case "rule.id":
		return e.RuleID, true
	}
	return "", false
}

func formatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprintf("%v", n)
	}
}
