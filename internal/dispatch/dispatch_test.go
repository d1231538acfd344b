package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/formbot/internal/binding"
	"github.com/m3rciful/formbot/internal/property"
)

type outbox struct {
	texts    []string
	photos   []string
	chats    []string
	photoErr map[string]bool
	textErr  error
}

func (o *outbox) SendText(_ context.Context, chatID, text string) error {
	o.chats = append(o.chats, chatID)
	if o.textErr != nil {
		return o.textErr
	}
	o.texts = append(o.texts, text)
	return nil
}

func (o *outbox) SendPhoto(_ context.Context, chatID, url string) error {
	o.chats = append(o.chats, chatID)
	if o.photoErr[url] {
		return errors.New("wrong file identifier")
	}
	o.photos = append(o.photos, url)
	return nil
}

type drive struct{ shared []string }

func (d *drive) ShareFile(_ context.Context, id string) (string, error) {
	if id == "broken" {
		return "", errors.New("403 insufficient permissions")
	}
	d.shared = append(d.shared, id)
	return "https://drive.example/" + id, nil
}

func repoWith(t *testing.T, seed ...binding.Binding) *binding.Repository {
	t.Helper()
	repo := binding.NewRepository(property.NewMemory())
	require.NoError(t, repo.ReplaceAll(context.Background(), seed))
	return repo
}

func TestDispatchUnboundFormSendsNothing(t *testing.T) {
	out := &outbox{}
	files := &drive{}
	d := New(repoWith(t, binding.Binding{ChatID: "-1", FormID: "F1"}), files, out)

	err := d.Dispatch(context.Background(), Event{
		FormID:    "F2",
		Responses: []ItemResponse{{QuestionTitle: "Name", Answers: []string{"Ann"}, ItemType: ItemText}},
	})
	require.NoError(t, err)
	assert.Empty(t, out.chats)
}

func TestDispatchComposesTextThenPhotos(t *testing.T) {
	out := &outbox{}
	files := &drive{}
	d := New(repoWith(t,
		binding.Binding{ChatID: "-100", FormID: "F1"},
		binding.Binding{ChatID: "-200", FormID: "F1"},
	), files, out)

	err := d.Dispatch(context.Background(), Event{
		FormID: "F1",
		Responses: []ItemResponse{
			{QuestionTitle: "Name", Answers: []string{"Ann <admin>"}, ItemType: ItemText},
			{QuestionTitle: "Photos", Answers: []string{"a", "broken", "b"}, ItemType: ItemFileUpload},
			{QuestionTitle: "Colors", Answers: []string{"red", "blue"}, ItemType: ItemText},
		},
	})
	require.NoError(t, err)

	require.Len(t, out.texts, 1)
	assert.Equal(t, "<b>New form submission</b>\n\n"+
		"<b>Name:</b> Ann &lt;admin&gt;\n"+
		"<b>Photos:</b> https://drive.example/a, https://drive.example/b\n"+
		"<b>Colors:</b> red, blue\n", out.texts[0])
	assert.Equal(t, []string{"https://drive.example/a", "https://drive.example/b"}, out.photos)
	assert.Equal(t, []string{"-100", "-100", "-100"}, out.chats, "first binding wins; text goes first")
}

func TestDispatchSkipsFailedPhoto(t *testing.T) {
	out := &outbox{photoErr: map[string]bool{"https://drive.example/a": true}}
	d := New(repoWith(t, binding.Binding{ChatID: "-1", FormID: "F1"}), &drive{}, out)

	err := d.Dispatch(context.Background(), Event{
		FormID:    "F1",
		Responses: []ItemResponse{{QuestionTitle: "Scan", Answers: []string{"a", "b"}, ItemType: ItemFileUpload}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://drive.example/b"}, out.photos)
	assert.Equal(t, []string{header + "<b>Scan:</b> https://drive.example/a, https://drive.example/b\n"}, out.texts)
}

func TestDispatchOmitsUnsharedFilesFromText(t *testing.T) {
	out := &outbox{}
	d := New(repoWith(t, binding.Binding{ChatID: "-1", FormID: "F1"}), &drive{}, out)

	err := d.Dispatch(context.Background(), Event{
		FormID:    "F1",
		Responses: []ItemResponse{{QuestionTitle: "Scan", Answers: []string{"broken"}, ItemType: ItemFileUpload}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{header}, out.texts)
	assert.Empty(t, out.photos)
}

func TestDispatchSwallowsTextFailure(t *testing.T) {
	out := &outbox{textErr: errors.New("telegram: Forbidden: bot was kicked from the group chat (403)")}
	d := New(repoWith(t, binding.Binding{ChatID: "-1", FormID: "F1"}), &drive{}, out)

	err := d.Dispatch(context.Background(), Event{
		FormID: "F1",
		Responses: []ItemResponse{
			{QuestionTitle: "Name", Answers: []string{"Ann"}, ItemType: ItemText},
			{QuestionTitle: "Scan", Answers: []string{"a"}, ItemType: ItemFileUpload},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, out.texts)
	assert.Equal(t, []string{"https://drive.example/a"}, out.photos, "photos still go out")
	assert.Equal(t, []string{"-1", "-1"}, out.chats, "one attempt per message")
}

type brokenBindings struct{}

func (brokenBindings) FindByForm(context.Context, string) (binding.Binding, bool, error) {
	return binding.Binding{}, false, errors.New("database is locked")
}

func TestDispatchReturnsBindingReadError(t *testing.T) {
	out := &outbox{}
	err := New(brokenBindings{}, &drive{}, out).Dispatch(context.Background(), Event{FormID: "F1"})
	require.ErrorContains(t, err, "database is locked")
	assert.Empty(t, out.chats)
}
