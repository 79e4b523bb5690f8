package enrollment

import (
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/user"
)

// NewServiceMock returns a Service whose side effects (emails) run synchronously.
func NewServiceMock(
	repo Repository,
	courseRepo course.Repository,
	usrRepo user.Repository,
	mailSvc core.EmailService,
	logger core.Logger,
) Service {
	return &service{
		repo:       repo,
		courseRepo: courseRepo,
		usrRepo:    usrRepo,
		mailSvc:    mailSvc,
		logger:     logger,
		dispatch:   func(fn func()) { fn() },
	}
}
