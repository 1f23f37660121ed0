package agent

import "github.com/nextlevelbuilder/gobutler/internal/providers"

// BuildMessages turns stored history plus the incoming message into a
// provider-ready message list. The messages API requires the list to
// start with a user message and to alternate roles strictly, so:
//
//   - leading assistant messages are dropped until the first user one
//   - consecutive same-role messages are merged with a blank line
//   - the new message merges into a trailing user message if present
//
// The image, when given, rides on the message that carries the new turn.
func BuildMessages(history []providers.Message, message string, image *providers.ImageAttachment) []providers.Message {
	// Trim to the first user message.
	start := 0
	for start < len(history) && history[start].Role != "user" {
		start++
	}

	var out []providers.Message
	for _, m := range history[start:] {
		if m.Text == "" && len(m.Blocks) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role && len(out[n-1].Blocks) == 0 && len(m.Blocks) == 0 {
			out[n-1].Text += "\n\n" + m.Text
			continue
		}
		out = append(out, m)
	}

	if n := len(out); n > 0 && out[n-1].Role == "user" && len(out[n-1].Blocks) == 0 {
		out[n-1].Text += "\n\n" + message
		if image != nil {
			out[n-1].Image = image
		}
		return out
	}
	return append(out, providers.Message{Role: "user", Text: message, Image: image})
}
