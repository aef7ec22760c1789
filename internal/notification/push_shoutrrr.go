package notification

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
)

// ShoutrrrProvider sends through a single shoutrrr router covering every
// configured service URL.
type ShoutrrrProvider struct {
	name   string
	sender *router.ServiceRouter
}

// NewShoutrrrProvider validates urls and builds the sender.
func NewShoutrrrProvider(name string, urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, errors.NewStd("at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// URLs carry tokens; never echo them back.
		return nil, sanitize(err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	name = strings.TrimSpace(name)
	if name == "" {
		name = "shoutrrr"
	}
	return &ShoutrrrProvider{name: name, sender: sender}, nil
}

// Name implements PushProvider.
func (s *ShoutrrrProvider) Name() string { return s.name }

// Send implements PushProvider. The router applies its own timeout.
func (s *ShoutrrrProvider) Send(_ context.Context, n *Notification) error {
	params := stypes.Params{}
	params.SetTitle(pushTitle(n.Type))

	for _, err := range s.sender.Send(n.Message, &params) {
		if err != nil {
			return sanitize(err)
		}
	}
	return nil
}

func pushTitle(t Type) string {
	switch t {
	case TypeSuccess:
		return "PipeCounter"
	case TypeError:
		return "PipeCounter: action needed"
	default:
		return "PipeCounter update"
	}
}

func sanitize(err error) error {
	return errors.NewStd(logger.RedactSensitiveData(err.Error()))
}
