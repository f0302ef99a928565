package tui

import "strings"

// Command represents a parsed ':' command.
type Command struct {
	Name string
	Args []string
}

var commandAliases = map[string]string{
	"q": "quit",
	"h": "help",
	"o": "open",
	"n": "new",
}

// CommandHelp lists the commands understood by the prompt.
var CommandHelp = []string{
	"open <id>            open a conversation",
	"new <id> [title]     create a conversation and open it",
	"read                 mark the open conversation read",
	"retry                resend the newest failed message",
	"pair                 link the daemon to WhatsApp",
	"help / h             show this help",
	"quit / q             quit",
}

// ParseCommand parses a command string (without the leading ':'). The title
// argument of new keeps its spaces.
func ParseCommand(input string) Command {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Command{}
	}
	name := strings.ToLower(fields[0])
	if full, ok := commandAliases[name]; ok {
		name = full
	}
	cmd := Command{Name: name, Args: fields[1:]}
	if name == "new" && len(fields) > 2 {
		rest := strings.TrimSpace(input)
		rest = strings.TrimSpace(rest[len(fields[0]):])
		rest = strings.TrimSpace(rest[len(fields[1]):])
		cmd.Args = []string{fields[1], rest}
	}
	return cmd
}
