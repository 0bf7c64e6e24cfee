// Package community implements the WhyFail.club feature set on top of the
// data-sync core: journals, public stories, MenTalk sessions, SOS requests,
// content reports, emotional analytics and moderation.
//
// Every read goes through the cache under one of the keys in keys.go and
// every write names the keys it affects, so a mounted view is refreshed
// exactly when its data may have changed.
package community

import (
	"errors"
	"fmt"
	"sync"
	"time"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/invalidation"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
)

// ErrInvalidInput wraps every validation failure of a write.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Service is the application layer for one signed-in client.
type Service struct {
	client *whyfail.Client
	logger logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	storyKeys map[string]models.QueryKey
	fanOut    invalidation.SubscriptionID
}

type Option func(*Service)

// WithClock replaces time.Now, e.g. for session scheduling checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(client *whyfail.Client, opts ...Option) *Service {
	s := &Service{
		client:    client,
		logger:    client.Logger(),
		now:       time.Now,
		storyKeys: make(map[string]models.QueryKey),
	}
	for _, o := range opts {
		o(s)
	}
	s.fanOut = client.Bus().Subscribe(StoriesRootKey(), s.invalidateStories)
	return s
}

// Close detaches the service from the client's invalidation bus.
func (s *Service) Close() {
	s.client.Bus().Unsubscribe(StoriesRootKey(), s.fanOut)
}

func (s *Service) timestamp(t time.Time) string {
	return t.UTC().Format(constants.TimestampLayout)
}
