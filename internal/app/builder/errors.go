package builder

import (
	"errors"
	"strings"

	"stratflow/internal/domain/strategy/validation"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrStrategyNotFound      = errors.New("strategy not found")
	ErrRepositoryUnavailable = errors.New("strategy repository not configured")
	ErrInvalidStrategy       = errors.New("invalid strategy")
)

// InvalidStrategyError 保存时校验未通过，携带完整校验结果
type InvalidStrategyError struct {
	Result validation.Result
}

func (e *InvalidStrategyError) Error() string {
	return ErrInvalidStrategy.Error() + ": " + strings.Join(e.Result.Errors, "; ")
}

func (e *InvalidStrategyError) Is(target error) bool {
	return target == ErrInvalidStrategy
}
