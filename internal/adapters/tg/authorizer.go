package tg

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/larriantoniy/wa_gateway/internal/ports"
	"github.com/zelenin/go-tdlib/client"
)

var errAuthAborted = errors.New("authorization aborted: transport closed")

// qrAuthorizer вместо ClientAuthorizer: телефон и код не спрашиваем,
// логин только через tg://login ссылку, которую отдаём как QR
type qrAuthorizer struct {
	params *client.SetTdlibParametersRequest
	emit   func(ports.Event)
	done   <-chan struct{}
	logger *slog.Logger
}

func (a *qrAuthorizer) Handle(c *client.Client, state client.AuthorizationState) error {
	// прервать NewClient можно только на очередной смене состояния,
	// ссылка QR обновляется каждые ~30 секунд
	select {
	case <-a.done:
		return errAuthAborted
	default:
	}

	switch s := state.(type) {
	case *client.AuthorizationStateWaitTdlibParameters:
		_, err := c.SetTdlibParameters(a.params)
		return err

	case *client.AuthorizationStateWaitPhoneNumber:
		_, err := c.RequestQrCodeAuthentication(&client.RequestQrCodeAuthenticationRequest{})
		return err

	case *client.AuthorizationStateWaitOtherDeviceConfirmation:
		a.logger.Info("TDLib waiting for QR confirmation")
		a.emit(ports.Event{Kind: ports.EventQR, QR: s.Link})
		return nil

	case *client.AuthorizationStateWaitCode, *client.AuthorizationStateWaitPassword:
		return fmt.Errorf("unsupported authorization state %s", state.AuthorizationStateType())

	case *client.AuthorizationStateReady,
		*client.AuthorizationStateLoggingOut,
		*client.AuthorizationStateClosing,
		*client.AuthorizationStateClosed:
		return nil
	}

	return fmt.Errorf("unexpected authorization state %s", state.AuthorizationStateType())
}

func (a *qrAuthorizer) Close() {}
