package hm10_test

import (
	"context"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/hm10bridge/hm10"
)

// mockModule holds what the driver handed to the mocked transport so that
// scripted replies can be written into the receive region.
type mockModule struct {
	notifier hm10.Notifier
	region   []byte
	cursor   int
}

func (m *mockModule) reply(resp string) {
	for i := 0; i < len(resp); i++ {
		m.region[m.cursor] = resp[i]
		m.cursor = (m.cursor + 1) % len(m.region)
	}
	m.notifier.ReceiveIdle(len(m.region) - m.cursor)
}

type MockSequenceBuilder struct {
	dialer    *hm10.MockDialer
	transport *hm10.MockTransport
	module    *mockModule
	calls     []any
}

func NewMockSequence(dialer *hm10.MockDialer, transport *hm10.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		dialer:    dialer,
		transport: transport,
		module:    &mockModule{},
		calls:     []any{},
	}
}

// Dial expects the driver to dial and start reception.
func (b *MockSequenceBuilder) Dial() *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, n hm10.Notifier) (hm10.Transport, error) {
			b.module.notifier = n
			return b.transport, nil
		}),
		b.transport.EXPECT().Receive(gomock.Any()).DoAndReturn(func(region []byte) error {
			b.module.region = region
			b.module.cursor = 0
			return nil
		}),
	)
	return b
}

// Command expects cmd to be transmitted; the module answers with resp.
func (b *MockSequenceBuilder) Command(cmd, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Transmit([]byte(cmd)).DoAndReturn(func(p []byte) error {
			b.module.notifier.TransmitCompleted()
			b.module.reply(resp)
			return nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Command("AT", "OK")
}

// Unanswered expects cmd to be transmitted without any reply, after which
// the driver restarts reception.
func (b *MockSequenceBuilder) Unanswered(cmd string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Transmit([]byte(cmd)).DoAndReturn(func(p []byte) error {
			b.module.notifier.TransmitCompleted()
			return nil
		}),
		b.transport.EXPECT().AbortReceive().Return(nil),
		b.transport.EXPECT().Receive(gomock.Any()).DoAndReturn(func(region []byte) error {
			b.module.cursor = 0
			return nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) SetBaudRate(rate any) *MockSequenceBuilder {
	b.calls = append(b.calls, b.transport.EXPECT().SetBaudRate(rate).Return(nil))
	return b
}

func (b *MockSequenceBuilder) Close() *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().AbortReceive().Return(nil),
		b.transport.EXPECT().Close().Return(nil),
	)
	return b
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls is the happy path of New.
func initMockCalls(dialer *hm10.MockDialer, transport *hm10.MockTransport) []any {
	return NewMockSequence(dialer, transport).Dial().AT().Build()
}
