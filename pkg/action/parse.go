package action

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/imjszhang/wiseflow/pkg/codeparse"
)

// ParseError reports that an LLM response could not be coerced into an
// executable program.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse generated code: " + e.Reason
}

var (
	fencedBlock    = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9]*)\\n(.*?)```")
	renamePattern  = regexp.MustCompile(`new_function_name:\s*([A-Za-z_]\w*)`)
	identifierOnly = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

// extractCodeBlocks joins the contents of all fenced code blocks in an LLM
// message. Returns a ParseError when no block is present.
func extractCodeBlocks(message string) (string, error) {
	matches := fencedBlock.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return "", &ParseError{Reason: "no fenced code block in response"}
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, strings.TrimRight(m[1], "\n"))
	}
	return strings.Join(blocks, "\n") + "\n", nil
}

// findEntryFunction selects the last asynchronous function as the program
// entry point.
func findEntryFunction(parser *codeparse.Parser, code string) (codeparse.Symbol, error) {
	entry, ok := parser.LastAsyncFunction(code, "python")
	if !ok {
		return codeparse.Symbol{}, &ParseError{Reason: "no async function definition found"}
	}
	return entry, nil
}

// extractNewName pulls the proposed identifier out of the rename answer.
func extractNewName(answer string) (string, error) {
	m := renamePattern.FindStringSubmatch(answer)
	if m == nil {
		return "", &ParseError{Reason: "rename answer missing new_function_name"}
	}
	name := m[1]
	if !identifierOnly.MatchString(name) {
		return "", &ParseError{Reason: fmt.Sprintf("invalid identifier %q", name)}
	}
	return name, nil
}

// renameFunction rewrites every occurrence of oldName as newName, bounded
// by word edges so substring names stay untouched.
func renameFunction(code, oldName, newName string) string {
	if oldName == newName {
		return code
	}
	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(oldName) + `\b`)
	return pattern.ReplaceAllString(code, newName)
}
