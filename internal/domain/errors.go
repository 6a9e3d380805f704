package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotConnected      = errors.New("client not connected, reconnecting")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrSendFailed        = errors.New("send failed")
	ErrSessionClosed     = errors.New("session closed")
	ErrNotReady          = errors.New("no live transport")
)

// сообщения, по которым старые драйверы сообщают о мёртвой сессии
var sessionClosedMarkers = []string{
	"session closed",
	"target closed",
}

// IsSessionClosed относит ошибку к фатальным для сессии (нужен recover)
// или к транзиентным (только логируем).
func IsSessionClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range sessionClosedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
