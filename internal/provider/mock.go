package provider

import "context"

// Mock answers from fixed values and never calls the network.
type Mock struct {
	Match  bool
	Number string
}

var _ Provider = (*Mock)(nil)

func NewMock(match bool, number string) *Mock {
	return &Mock{Match: match, Number: number}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) VerifyMatch(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return m.Match, nil
}

func (m *Mock) DeviceNumber(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Number, nil
}
