package app

const (
	keyQuit         = "ctrl+c"
	keyStop         = "esc"
	keySend         = "enter"
	keyNewDialogue  = "ctrl+n"
	keyPrevDialogue = "ctrl+o"
	keyNextDialogue = "ctrl+p"
	keyPrevCard     = "ctrl+k"
	keyNextCard     = "ctrl+j"
	keyConfirm      = "ctrl+y"
	keyReject       = "ctrl+x"
	keyCopy         = "ctrl+r"
	keyPageUp       = "pgup"
	keyPageDown     = "pgdown"
)

const helpLine = "enter send · ctrl+y/ctrl+x confirm/reject · ctrl+k/j card · ctrl+o/p dialogue · ctrl+n new · ctrl+r copy · esc stop · ctrl+c quit"
