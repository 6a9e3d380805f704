package domain

import (
	"fmt"
	"time"
)

// State состояние логической сессии с мессенджером
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Identity описывает авторизованный аккаунт, как его отдаёт транспорт.
// ID: сериализованный идентификатор (например "15551234567@c.us").
type Identity struct {
	ID       string `json:"wid"`
	PushName string `json:"pushname,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Platform string `json:"platform,omitempty"`
}

func (i Identity) IsZero() bool {
	return i.ID == ""
}

// StateChange публикуется наблюдателям на каждом переходе
type StateChange struct {
	State      State     `json:"state"`
	Generation uint64    `json:"generation"`
	Identity   Identity  `json:"identity"`
	QR         string    `json:"qr,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}
