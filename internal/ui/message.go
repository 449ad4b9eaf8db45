package ui

import (
	"fmt"
	"unicode/utf8"

	"github.com/muurk/wsconn/internal/handler"
)

// RenderMessage formats one websocket message for the interactive client.
// Binary payloads, and text that is not valid UTF-8, are summarised.
func RenderMessage(incoming bool, msg handler.Message) string {
	marker, style := OutgoingMarker, OutgoingStyle
	if incoming {
		marker, style = IncomingMarker, IncomingStyle
	}

	body := string(msg.Data)
	if msg.Type != handler.Text || !utf8.Valid(msg.Data) {
		body = fmt.Sprintf("<%s message, %d bytes>", msg.Type, len(msg.Data))
	}
	return style.Render(marker+" ") + body
}

// RenderNotice formats a status line such as "connected" or "closed".
func RenderNotice(format string, args ...any) string {
	return NoticeStyle.Render("· " + fmt.Sprintf(format, args...))
}
