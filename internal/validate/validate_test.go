package validate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMembers struct {
	member map[string]bool
	err    error
	calls  []string
}

func (f *fakeMembers) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	f.calls = append(f.calls, chatID+"/"+userID)
	if f.err != nil {
		return false, f.err
	}
	return f.member[chatID], nil
}

func TestChatValidator(t *testing.T) {
	members := &fakeMembers{member: map[string]bool{"-100": true}}
	v := ChatValidator{Members: members}
	ctx := context.Background()

	assert.Equal(t, KindOK, v.Check(ctx, "42", " -100 ").Kind)
	assert.Equal(t, KindInvalid, v.Check(ctx, "42", "-999").Kind)
	assert.Equal(t, KindInvalid, v.Check(ctx, "42", "   ").Kind)
	assert.Equal(t, []string{"-100/42", "-999/42"}, members.calls, "blank candidate must not hit the API")

	members.err = errors.New("timeout")
	r := v.Check(ctx, "42", "-100")
	assert.Equal(t, KindTransport, r.Kind)
	assert.False(t, r.OK())
}

type fakeForms map[string]error

func (f fakeForms) ResolveForm(_ context.Context, id string) (Form, error) {
	err, ok := f[id]
	if !ok {
		return Form{}, ErrFormNotFound
	}
	if err != nil {
		return Form{}, err
	}
	return Form{ID: id}, nil
}

func TestFormValidator(t *testing.T) {
	v := FormValidator{Forms: fakeForms{
		"F1":     nil,
		"secret": fmt.Errorf("forms.get: %w", ErrFormPermission),
		"flaky":  errors.New("connection reset"),
	}}
	ctx := context.Background()

	cases := []struct {
		raw  string
		id   string
		kind Kind
	}{
		{"F1", "F1", KindOK},
		{"https://docs.google.com/forms/d/F1/edit", "F1", KindOK},
		{"missing", "missing", KindNotFound},
		{"secret", "secret", KindPermission},
		{"flaky", "flaky", KindTransport},
		{"not a form id", "", KindInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			id, r := v.Check(ctx, tc.raw)
			require.Equal(t, tc.kind, r.Kind, r.Kind.String())
			assert.Equal(t, tc.id, id)
		})
	}
}

func TestExtractFormID(t *testing.T) {
	id, ok := ExtractFormID("https://docs.google.com/forms/d/1AbC-x_9/viewform?usp=sf_link")
	require.True(t, ok)
	assert.Equal(t, "1AbC-x_9", id)

	_, ok = ExtractFormID("")
	assert.False(t, ok)
	_, ok = ExtractFormID("https://example.com/?q=1")
	assert.False(t, ok)
}
