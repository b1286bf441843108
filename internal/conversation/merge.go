package conversation

import "taskstream/internal/types"

// Merge picks between the cached and fetched message lists of one dialogue.
// The server list wins when it is at least as long; otherwise the cached list
// is kept, with the server's terminal confirmations applied to it.
func Merge(cached, server []types.Message) []types.Message {
	if len(server) >= len(cached) {
		return server
	}
	return OverlayTerminal(cached, server)
}

// OverlayTerminal copies every terminal confirmation in source onto the card
// with the same action id in base. Terminal cards in base are left alone.
func OverlayTerminal(base, source []types.Message) []types.Message {
	out := base
	for _, msg := range source {
		for _, card := range msg.Cards() {
			if card.ActionID == "" || !card.UserConfirmation.Terminal() {
				continue
			}
			out, _ = types.SetConfirmation(out, card.ActionID, card.UserConfirmation)
		}
	}
	return out
}
