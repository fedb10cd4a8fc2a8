package pgcore

import "log/slog"

// NoticeHandler receives asynchronous NoticeResponse messages (warnings,
// informational messages) raised outside the request/response flow.
type NoticeHandler interface {
	Handle(n *DbError)
}

// slogNoticeHandler is the default handler: log at info level, matching
// the connection pool's own logging conventions.
type slogNoticeHandler struct{}

func (slogNoticeHandler) Handle(n *DbError) {
	slog.Info("postgres notice", "severity", n.Severity, "message", n.Message, "code", n.Code)
}
