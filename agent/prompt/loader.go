package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/chat.txt
	chatRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Chat string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Chat: strings.TrimSpace(chatRaw),
	}
}
