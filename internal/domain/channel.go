package domain

import "context"

// View is a user-facing front end over a chat session (terminal REPL, web page).
type View interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
