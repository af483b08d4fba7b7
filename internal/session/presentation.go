package session

import (
	"strings"
	"unicode/utf8"
)

// BannerKind selects how the upload status banner is drawn.
type BannerKind int

const (
	BannerNone BannerKind = iota
	BannerProgress
	BannerSuccess
	BannerError
)

// Banner returns the upload banner for s and its message.
func (s Snapshot) Banner() (BannerKind, string) {
	switch s.Upload.Status {
	case UploadInFlight:
		return BannerProgress, s.Upload.Message
	case UploadSucceeded:
		return BannerSuccess, s.Upload.Message
	case UploadFailed:
		return BannerError, s.Upload.Message
	default:
		return BannerNone, ""
	}
}

// CanSubmitQuery reports whether the chat input may be submitted.
func (s Snapshot) CanSubmitQuery() bool {
	return s.Query != QueryInFlight && strings.TrimSpace(s.Input) != ""
}

// ShowUploadButton reports whether there is a document ready to upload.
func (s Snapshot) ShowUploadButton() bool {
	return s.Selected != nil
}

// UploadBusy reports whether an upload is outstanding.
func (s Snapshot) UploadBusy() bool {
	return s.Upload.Status == UploadInFlight
}

// LastTurn returns the most recent transcript entry.
func (s Snapshot) LastTurn() (Turn, bool) {
	if len(s.Transcript) == 0 {
		return Turn{}, false
	}
	return s.Transcript[len(s.Transcript)-1], true
}

// Excerpt shortens a source to at most n runes followed by "...".
func Excerpt(source string, n int) string {
	if n <= 0 || utf8.RuneCountInString(source) <= n {
		return source
	}
	runes := []rune(source)
	return string(runes[:n]) + "..."
}
