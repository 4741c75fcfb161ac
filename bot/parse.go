package bot

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var errBadQuoting = errors.New("invalid command line string")

// parseCommandString splits line on whitespace, honouring single and double
// quotes and backslash escapes outside single quotes.
func parseCommandString(line string) ([]string, error) {
	var args []string
	var buf strings.Builder
	var escaped, inDouble, inSingle, got bool

	for _, r := range line {
		switch {
		case escaped:
			buf.WriteRune(r)
			escaped = false
			got = true
		case r == '\\' && !inSingle:
			escaped = true
		case unicode.IsSpace(r) && !inSingle && !inDouble:
			if got {
				args = append(args, buf.String())
				buf.Reset()
				got = false
			}
		case r == '"' && !inSingle:
			inDouble = !inDouble
			got = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			got = true
		default:
			buf.WriteRune(r)
			got = true
		}
	}

	if escaped || inSingle || inDouble {
		return nil, errBadQuoting
	}

	if got {
		args = append(args, buf.String())
	}

	return args, nil
}

// mentionRe matches <@id>, <@!id> and slack's <@id|name>.
var mentionRe = regexp.MustCompile(`^<@!?([A-Za-z0-9]+)(\|[^>]*)?>$`)

// parseUserRef turns a mention or a bare id into a user id.
func parseUserRef(ref string) string {
	if m := mentionRe.FindStringSubmatch(ref); m != nil {
		return m[1]
	}
	return strings.TrimPrefix(ref, "@")
}
