package usecase

import (
	"fmt"
	"log/slog"

	"hyperstream/internal/domain"
	"hyperstream/internal/session"
)

// RemoveStream unregisters a session and releases its source.
type RemoveStream struct {
	Registry *session.Registry
	Logger   *slog.Logger
}

func (uc RemoveStream) Execute(id string) error {
	s, ok := uc.Registry.Remove(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownSession, id)
	}
	if err := s.Close(); err != nil {
		logger := uc.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("remove: source close failed",
			slog.String("streamId", id),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
