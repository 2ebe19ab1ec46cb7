package storyloom

import "context"

// NullNodeLogger is a no-op implementation.
type NullNodeLogger struct{}

func NewNullNodeLogger() *NullNodeLogger {
	return &NullNodeLogger{}
}

func (*NullNodeLogger) LogNode(ctx context.Context, entry *NodeLogEntry) error {
	return nil
}

func (*NullNodeLogger) GetNodeHistory(ctx context.Context, threadID string) ([]*NodeLogEntry, error) {
	return nil, nil
}
