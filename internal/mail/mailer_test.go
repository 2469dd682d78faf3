package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMessage_PlainText(t *testing.T) {
	raw := string(buildMessage("no-reply@herald.local", Message{
		To:       "alice@example.com",
		Subject:  "Welcome",
		BodyText: "Hello Alice",
	}))

	require.Contains(t, raw, "From: no-reply@herald.local\r\n")
	require.Contains(t, raw, "To: alice@example.com\r\n")
	require.Contains(t, raw, "Subject: Welcome\r\n")
	require.Contains(t, raw, "Content-Type: text/plain; charset=UTF-8\r\n")
	require.NotContains(t, raw, "multipart/alternative")
	require.True(t, strings.HasSuffix(raw, "Hello Alice\r\n"))
}

func TestBuildMessage_Multipart(t *testing.T) {
	raw := string(buildMessage("no-reply@herald.local", Message{
		To:       "alice@example.com",
		Subject:  "Welcome",
		BodyText: "Hello Alice",
		BodyHTML: "<p>Hello Alice</p>",
	}))

	require.Contains(t, raw, "multipart/alternative")
	require.Contains(t, raw, "Content-Type: text/plain; charset=UTF-8\r\n")
	require.Contains(t, raw, "Content-Type: text/html; charset=UTF-8\r\n")
	require.Contains(t, raw, "<p>Hello Alice</p>")

	// Text part precedes the HTML part.
	require.Less(t,
		strings.Index(raw, "Hello Alice"),
		strings.Index(raw, "<p>Hello Alice</p>"))

	// Closing boundary terminates the message.
	require.True(t, strings.HasSuffix(strings.TrimRight(raw, "\r\n"), "--"))
}

func TestBuildMessage_HeaderInjection(t *testing.T) {
	raw := string(buildMessage("no-reply@herald.local", Message{
		To:       "alice@example.com",
		Subject:  "Hi\r\nBcc: evil@example.com",
		BodyText: "body",
	}))

	require.NotContains(t, raw, "\r\nBcc: evil@example.com")
	require.Contains(t, raw, "Subject: Hi  Bcc: evil@example.com\r\n")
}
