package domain

import "context"

// File is a local file selected for upload with the next submission.
type File struct {
	Name        string // base name sent as the multipart filename
	Path        string // local path, if the file came from disk
	ContentType string
	Data        []byte
}

// Dispatcher sends one user submission to the agent and returns the
// demultiplexed reply messages in order.
type Dispatcher interface {
	Dispatch(ctx context.Context, text, agentID string, file *File) ([]Message, error)
}

// History is an append-only, insertion-ordered message log.
type History interface {
	Append(msg Message) error
	AppendBatch(msgs []Message) error
	Snapshot() []Message
}
