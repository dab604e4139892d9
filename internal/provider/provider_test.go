package provider

import (
	"context"
	"io"
	"testing"

	gateway "github.com/keystonegw/gateway/internal"
)

type fakeDriver struct{ family gateway.EndpointFamily }

func (f *fakeDriver) Family() gateway.EndpointFamily { return f.family }
func (f *fakeDriver) ForwardUnary(context.Context, []byte) (int, []byte, gateway.Usage, error) {
	return 200, nil, gateway.Usage{}, nil
}
func (f *fakeDriver) ForwardStream(_ context.Context, _ []byte, _ io.Writer, _ func(), onAccept func()) (gateway.Usage, error) {
	onAccept()
	return gateway.Usage{}, nil
}

func TestRegistry_GetConfiguredFamily(t *testing.T) {
	t.Parallel()

	chat := &fakeDriver{family: gateway.FamilyOpenAIChat}
	reg := NewRegistry(chat, nil, nil)

	got, err := reg.Get(gateway.FamilyOpenAIChat)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Family() != gateway.FamilyOpenAIChat {
		t.Errorf("Family() = %q, want %q", got.Family(), gateway.FamilyOpenAIChat)
	}
}

func TestRegistry_GetUnconfiguredFamily(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil, nil, nil)
	if _, err := reg.Get(gateway.FamilyAnthropicMessages); err == nil {
		t.Fatal("expected error for unconfigured family")
	}
}

func TestRegistry_AllThreeFamilies(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(
		&fakeDriver{family: gateway.FamilyOpenAIChat},
		&fakeDriver{family: gateway.FamilyOpenAIResponses},
		&fakeDriver{family: gateway.FamilyAnthropicMessages},
	)

	for _, family := range []gateway.EndpointFamily{
		gateway.FamilyOpenAIChat, gateway.FamilyOpenAIResponses, gateway.FamilyAnthropicMessages,
	} {
		d, err := reg.Get(family)
		if err != nil {
			t.Fatalf("Get(%q): %v", family, err)
		}
		if d.Family() != family {
			t.Errorf("Family() = %q, want %q", d.Family(), family)
		}
	}
}
