package parsing

import (
	"fmt"
	"strings"

	"github.com/renholm/stagehand/pkg/schema"
)

// ParseActionLine parses a single action line into its descriptor.
// Exactly four kinds are tolerated; anything else is a Parse error:
//
//	Log "message"
//	Execute prompt "name" [with key="value" ...] [extract "<jq filter>"]
//	Run workflow "name"
//	Execute command "program" ["arg" ...]
//
// Keywords are matched case-insensitively.
func ParseActionLine(state, line string) (schema.ActionDescriptor, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return schema.ActionDescriptor{}, parseErr(state, line, err.Error())
	}
	if len(tokens) == 0 {
		return schema.ActionDescriptor{}, parseErr(state, line, "empty action line")
	}

	switch {
	case keywordIs(tokens, "log"):
		return parseLog(state, line, tokens[1:])
	case keywordIs(tokens, "execute", "prompt"):
		return parsePrompt(state, line, tokens[2:])
	case keywordIs(tokens, "run", "workflow"):
		return parseRunWorkflow(state, line, tokens[2:])
	case keywordIs(tokens, "execute", "command"):
		return parseCommand(state, line, tokens[2:])
	default:
		return schema.ActionDescriptor{}, parseErr(state, line,
			`unknown action kind; expected one of: Log, Execute prompt, Run workflow, Execute command`)
	}
}

func parseLog(state, line string, rest []token) (schema.ActionDescriptor, error) {
	if len(rest) != 1 || !rest[0].quoted {
		return schema.ActionDescriptor{}, parseErr(state, line, `log expects exactly one quoted message`)
	}
	return schema.ActionDescriptor{Kind: schema.ActionLog, Message: rest[0].text}, nil
}

func parsePrompt(state, line string, rest []token) (schema.ActionDescriptor, error) {
	if len(rest) == 0 || !rest[0].quoted {
		return schema.ActionDescriptor{}, parseErr(state, line, `execute prompt expects a quoted prompt name`)
	}

	desc := schema.ActionDescriptor{Kind: schema.ActionPrompt, Prompt: rest[0].text}
	rest = rest[1:]

	for len(rest) > 0 {
		switch strings.ToLower(rest[0].text) {
		case "with":
			rest = rest[1:]
			args := map[string]string{}
			for len(rest) > 0 && !rest[0].quoted && strings.Contains(rest[0].text, "=") {
				key, val, ok := splitArgPair(rest[0])
				if !ok {
					return schema.ActionDescriptor{}, parseErr(state, line,
						fmt.Sprintf("invalid prompt argument %q: expected key=%q", rest[0].text, "value"))
				}
				args[key] = val
				rest = rest[1:]
			}
			if len(args) == 0 {
				return schema.ActionDescriptor{}, parseErr(state, line, `'with' requires at least one key="value" pair`)
			}
			desc.PromptArgs = args
		case "extract":
			if len(rest) < 2 || !rest[1].quoted {
				return schema.ActionDescriptor{}, parseErr(state, line, `extract expects a quoted jq filter`)
			}
			desc.Extract = rest[1].text
			rest = rest[2:]
		default:
			return schema.ActionDescriptor{}, parseErr(state, line,
				fmt.Sprintf("unexpected token %q after prompt name", rest[0].text))
		}
	}
	return desc, nil
}

func parseRunWorkflow(state, line string, rest []token) (schema.ActionDescriptor, error) {
	if len(rest) != 1 || !rest[0].quoted {
		return schema.ActionDescriptor{}, parseErr(state, line, `run workflow expects exactly one quoted workflow name`)
	}
	return schema.ActionDescriptor{Kind: schema.ActionSubflow, Workflow: rest[0].text}, nil
}

func parseCommand(state, line string, rest []token) (schema.ActionDescriptor, error) {
	if len(rest) == 0 || !rest[0].quoted {
		return schema.ActionDescriptor{}, parseErr(state, line, `execute command expects a quoted command name`)
	}
	desc := schema.ActionDescriptor{Kind: schema.ActionCommand, Command: rest[0].text}
	for _, t := range rest[1:] {
		if !t.quoted {
			return schema.ActionDescriptor{}, parseErr(state, line,
				fmt.Sprintf("command arguments must be quoted, got %q", t.text))
		}
		desc.CommandArgs = append(desc.CommandArgs, t.text)
	}
	return desc, nil
}

// keywordIs checks the leading unquoted tokens against the given keywords.
func keywordIs(tokens []token, words ...string) bool {
	if len(tokens) < len(words) {
		return false
	}
	for i, w := range words {
		if tokens[i].quoted || !strings.EqualFold(tokens[i].text, w) {
			return false
		}
	}
	return true
}

// splitArgPair splits a key="value" token produced by the tokenizer.
// The tokenizer joins the quoted value onto the key, so the token text is
// already key=value with quotes removed.
func splitArgPair(t token) (string, string, bool) {
	key, val, ok := strings.Cut(t.text, "=")
	if !ok || key == "" {
		return "", "", false
	}
	return key, val, true
}

// token is one lexical unit of an action line. quoted marks double-quoted
// string literals.
type token struct {
	text   string
	quoted bool
}

// tokenize splits an action line into bare words and quoted strings.
// A bare word immediately followed by a quoted string (key="value") is
// merged into a single unquoted token.
func tokenize(line string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(line)
	for i < n {
		switch {
		case line[i] == ' ' || line[i] == '\t':
			i++
		case line[i] == '"':
			end := strings.IndexByte(line[i+1:], '"')
			if end == -1 {
				return nil, fmt.Errorf("unterminated quoted string")
			}
			text := line[i+1 : i+1+end]
			i += end + 2
			// Merge key=" value " pairs: previous token ends with '='.
			if len(tokens) > 0 && !tokens[len(tokens)-1].quoted && strings.HasSuffix(tokens[len(tokens)-1].text, "=") {
				tokens[len(tokens)-1].text += text
			} else {
				tokens = append(tokens, token{text: text, quoted: true})
			}
		default:
			start := i
			for i < n && line[i] != ' ' && line[i] != '\t' && line[i] != '"' {
				i++
			}
			tokens = append(tokens, token{text: line[start:i]})
		}
	}
	return tokens, nil
}

func parseErr(state, line, msg string) error {
	return schema.NewErrorf(schema.ErrKindParse, "invalid action line %q: %s", line, msg).
		WithState(state)
}
